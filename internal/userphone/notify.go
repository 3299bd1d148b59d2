package userphone

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"interchat/internal/gateway"
)

// Notifier delivers lifecycle messages to call participants.
//
// Delivery is best-effort by contract: implementations log failures and
// never propagate them, so call-state transitions cannot be blocked by a
// slow or dead webhook.
type Notifier interface {
	CallMatched(ctx context.Context, call *ActiveCall)
	CallEnded(ctx context.Context, call *ActiveCall, reason string)
	QueueTimeout(ctx context.Context, req CallRequest)
	ConnectionError(ctx context.Context, p *CallParticipant)
	ParticipantJoined(ctx context.Context, call *ActiveCall, channelID, userID string)
	ParticipantLeft(ctx context.Context, call *ActiveCall, channelID, userID string)
}

const systemUsername = "InterChat Calls"

// NotificationService sends system messages through each participant's
// webhook via the gateway.
type NotificationService struct {
	gw    gateway.Gateway
	log   *slog.Logger
	clock func() time.Time
}

func NewNotificationService(gw gateway.Gateway, log *slog.Logger) *NotificationService {
	return &NotificationService{gw: gw, log: log, clock: time.Now}
}

func (n *NotificationService) CallMatched(ctx context.Context, call *ActiveCall) {
	for _, p := range call.Participants {
		n.send(ctx, p, "📞 Connected! Say hi to your new chat partners.")
	}
}

func (n *NotificationService) CallEnded(ctx context.Context, call *ActiveCall, reason string) {
	dur := call.Duration(n.clock()).Round(time.Second)
	users := 0
	for _, p := range call.Participants {
		users += len(p.Users)
	}
	text := fmt.Sprintf("👋 Call ended (%s). Duration %s, %d messages, %d speakers.",
		reason, dur, len(call.Messages), users)
	for _, p := range call.Participants {
		n.send(ctx, p, text)
	}
}

func (n *NotificationService) QueueTimeout(ctx context.Context, req CallRequest) {
	p := &CallParticipant{ChannelID: req.ChannelID, WebhookURL: req.WebhookURL}
	n.send(ctx, p, "⏳ No partner found in time. Try calling again later!")
}

func (n *NotificationService) ConnectionError(ctx context.Context, p *CallParticipant) {
	n.send(ctx, p, "⚠️ Lost connection to the other side. The call has been closed.")
}

func (n *NotificationService) ParticipantJoined(ctx context.Context, call *ActiveCall, channelID, userID string) {
	other := call.OtherParticipant(channelID)
	if other == nil {
		return
	}
	n.send(ctx, other, "👋 Someone joined the conversation on the other side.")
}

func (n *NotificationService) ParticipantLeft(ctx context.Context, call *ActiveCall, channelID, userID string) {
	other := call.OtherParticipant(channelID)
	if other == nil {
		return
	}
	n.send(ctx, other, "👋 Someone on the other side left the conversation.")
}

func (n *NotificationService) send(ctx context.Context, p *CallParticipant, text string) {
	if p == nil || p.WebhookURL == "" {
		return
	}
	_, err := n.gw.Send(ctx, p.WebhookURL, gateway.Payload{
		Content:  text,
		Username: systemUsername,
	})
	if err != nil {
		n.log.Warn("call notification failed", "channel_id", p.ChannelID, "err", err)
	}
}
