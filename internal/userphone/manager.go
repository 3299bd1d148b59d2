package userphone

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"interchat/internal/events"
	"interchat/internal/gateway"
)

// relayWebhookName labels the webhooks this module provisions so server
// admins can tell them apart from their own.
const relayWebhookName = "InterChat Relay"

// InboundMessage is a message arriving from a call participant's channel,
// before the relay decides where (or whether) it goes.
type InboundMessage struct {
	ChannelID      string
	AuthorID       string
	AuthorUsername string
	AvatarURL      string
	Content        string
	AttachmentURL  string
}

// Manager owns the call lifecycle: initiate, match (via the engine),
// relay, skip, hangup. It is the only writer of call state; the command
// layer above it only ever sees CallResult values.
type Manager struct {
	queue      *Queue
	engine     *Engine
	cache      CacheManager
	repo       Repository
	notifier   Notifier
	gw         gateway.Gateway
	dispatcher *events.Dispatcher

	queueTimeout time.Duration
	clock        func() time.Time
	log          *slog.Logger
}

func NewManager(queue *Queue, engine *Engine, cache CacheManager, repo Repository, notifier Notifier, gw gateway.Gateway, dispatcher *events.Dispatcher, queueTimeout time.Duration, log *slog.Logger) *Manager {
	return &Manager{
		queue:        queue,
		engine:       engine,
		cache:        cache,
		repo:         repo,
		notifier:     notifier,
		gw:           gw,
		dispatcher:   dispatcher,
		queueTimeout: queueTimeout,
		clock:        time.Now,
		log:          log,
	}
}

// InitiateCall starts a call for the channel: instant match when a partner
// is waiting, otherwise the channel joins the queue.
func (m *Manager) InitiateCall(ctx context.Context, channelID, guildID, userID string, priority int) CallResult {
	if channelID == "" || guildID == "" {
		return failure(CodeInvalidChannel, "channel and guild are required")
	}

	if call, err := m.resolveCall(ctx, channelID); err != nil {
		return failure(CodeRedisError, "call state is unavailable, try again shortly")
	} else if call != nil {
		return failure(CodeChannelAlreadyInCall, "this channel is already in a call")
	}

	if m.queue.InQueue(channelID) {
		return failure(CodeChannelAlreadyInQueue, "this channel is already waiting for a match")
	}

	webhookURL, err := m.ensureWebhook(ctx, channelID)
	if err != nil {
		m.log.Error("webhook provisioning failed", "channel_id", channelID, "err", err)
		return failure(CodeWebhookCreationFailed, "could not create a webhook in this channel")
	}

	now := m.clock()
	req := CallRequest{
		ID:          uuid.NewString(),
		ChannelID:   channelID,
		GuildID:     guildID,
		InitiatorID: userID,
		WebhookURL:  webhookURL,
		Timestamp:   now,
		Priority:    priority,
		ExpiresAt:   now.Add(m.queueTimeout),
	}

	if res := m.engine.FindMatch(ctx, req); res.Matched {
		out := success(res.CallID)
		out.Matched = true
		return out
	}

	status, err := m.queue.Enqueue(req)
	if err != nil {
		if errors.Is(err, ErrAlreadyQueued) {
			// An aborted fast-path match rolls the request back into the
			// queue inside FindMatch, so the channel IS queued. Report
			// the position instead of a conflict.
			if st := m.queue.Status(channelID); st != nil {
				return queued(*st)
			}
			return failure(CodeChannelAlreadyInQueue, "this channel is already waiting for a match")
		}
		return failure(CodeDatabaseError, "could not join the queue")
	}

	m.publish(events.Event{
		Type: events.TypeCallQueued,
		Queued: &events.CallQueued{
			RequestID: req.ID,
			ChannelID: channelID,
			GuildID:   guildID,
			Position:  status.Position,
		},
	})
	m.log.Info("call request queued", "channel_id", channelID, "position", status.Position)
	return queued(status)
}

// HangupCall ends the channel's ongoing call, or cancels its queued
// request when no call exists yet.
func (m *Manager) HangupCall(ctx context.Context, channelID string) CallResult {
	if m.queue.DequeueByChannel(channelID) {
		m.log.Info("queued request cancelled", "channel_id", channelID)
		return CallResult{Success: true}
	}

	call, err := m.resolveCall(ctx, channelID)
	if err != nil {
		return failure(CodeRedisError, "call state is unavailable, try again shortly")
	}
	if call == nil {
		return failure(CodeCallNotFound, "this channel is not in a call")
	}
	if err := m.endCall(ctx, call, "hangup"); err != nil {
		return failure(CodeDatabaseError, "could not end the call")
	}
	return success(call.ID)
}

// SkipCall ends the current call and immediately requeues the channel for
// a new partner. Requires an ongoing call; use InitiateCall otherwise.
func (m *Manager) SkipCall(ctx context.Context, channelID, userID string) CallResult {
	call, err := m.resolveCall(ctx, channelID)
	if err != nil {
		return failure(CodeRedisError, "call state is unavailable, try again shortly")
	}
	if call == nil {
		return failure(CodeCallNotFound, "this channel is not in a call")
	}

	p := call.Participant(channelID)
	if p == nil {
		return failure(CodeCallNotFound, "this channel is not in a call")
	}
	if err := m.endCall(ctx, call, "skip"); err != nil {
		return failure(CodeDatabaseError, "could not end the call")
	}

	// Refresh the rematch exclusion from the moment of the skip, so the
	// requeued channel cannot bounce straight back to the same partner.
	if other := call.OtherParticipant(channelID); other != nil {
		for uid := range other.Users {
			if err := m.cache.RecordRecentMatch(ctx, userID, uid); err != nil {
				m.log.Warn("recent-match refresh failed", "err", err)
			}
		}
	}
	return m.InitiateCall(ctx, channelID, p.GuildID, userID, 0)
}

// RelayMessage forwards an inbound participant message to the opposite
// side and appends it to the call record.
func (m *Manager) RelayMessage(ctx context.Context, in InboundMessage) CallResult {
	call, err := m.resolveCall(ctx, in.ChannelID)
	if err != nil {
		return failure(CodeRedisError, "call state is unavailable, try again shortly")
	}
	if call == nil {
		return failure(CodeCallNotFound, "this channel is not in a call")
	}

	other := call.OtherParticipant(in.ChannelID)
	if other == nil {
		return failure(CodeCallNotFound, "call has no connected partner")
	}

	_, err = m.gw.Send(ctx, other.WebhookURL, gateway.Payload{
		Content:       in.Content,
		Username:      in.AuthorUsername,
		AvatarURL:     in.AvatarURL,
		AttachmentURL: in.AttachmentURL,
	})
	if err != nil {
		if errors.Is(err, gateway.ErrWebhookGone) {
			// Partner's webhook was deleted under us: the call cannot
			// continue, tear it down and tell whoever is left.
			m.log.Warn("partner webhook gone, ending call", "call_id", call.ID, "channel_id", other.ChannelID)
			m.notifier.ConnectionError(ctx, other)
			if endErr := m.endCall(ctx, call, "relay_failure"); endErr != nil {
				m.log.Error("teardown after relay failure failed", "call_id", call.ID, "err", endErr)
			}
			return failure(CodeCallNotFound, "the other side disconnected")
		}
		m.log.Error("relay send failed", "call_id", call.ID, "err", err)
		return failure(CodeRedisError, "message could not be delivered, try again")
	}

	msg := CallMessage{
		AuthorID:       in.AuthorID,
		AuthorUsername: in.AuthorUsername,
		Content:        in.Content,
		AttachmentURL:  in.AttachmentURL,
		Timestamp:      m.clock(),
	}
	if err := m.repo.AppendMessage(ctx, call.ID, in.ChannelID, msg); err != nil {
		// Delivery already happened; losing one log row is the lesser evil.
		m.log.Error("message append failed", "call_id", call.ID, "err", err)
	}

	// Mirror the append into the cached payload and extend its TTL so the
	// hot copy stays the source of truth for the message count.
	call.Messages = append(call.Messages, msg)
	if p := call.Participant(in.ChannelID); p != nil {
		p.Users.Add(in.AuthorID)
	}
	if err := m.cache.RefreshActiveCall(ctx, call); err != nil {
		m.log.Warn("call cache refresh failed", "call_id", call.ID, "err", err)
	}

	m.publish(events.Event{
		Type: events.TypeCallMessage,
		Message: &events.CallMessage{
			CallID:    call.ID,
			ChannelID: in.ChannelID,
			AuthorID:  in.AuthorID,
		},
	})
	return success(call.ID)
}

// GetActiveCall resolves a channel to its ongoing call, cache-first with a
// repository fallback. Returns nil when the channel is idle.
func (m *Manager) GetActiveCall(ctx context.Context, channelID string) (*ActiveCall, error) {
	return m.resolveCall(ctx, channelID)
}

// QueueStatus reports the channel's queue position, or nil if not queued.
func (m *Manager) QueueStatus(channelID string) *QueueStatus {
	return m.queue.Status(channelID)
}

// Stats exposes the matching engine's rolling metrics.
func (m *Manager) Stats() MatchingStats {
	return m.engine.Stats()
}

// AddParticipant records a user joining the conversation on one side and
// announces them to the call.
func (m *Manager) AddParticipant(ctx context.Context, channelID, userID string) CallResult {
	call, err := m.resolveCall(ctx, channelID)
	if err != nil {
		return failure(CodeRedisError, "call state is unavailable, try again shortly")
	}
	if call == nil {
		return failure(CodeCallNotFound, "this channel is not in a call")
	}
	p := call.Participant(channelID)
	if p == nil {
		return failure(CodeCallNotFound, "this channel is not in a call")
	}
	if p.Users.Has(userID) {
		return success(call.ID)
	}

	p.Users.Add(userID)
	if err := m.cache.RefreshActiveCall(ctx, call); err != nil {
		m.log.Warn("call cache refresh failed", "call_id", call.ID, "err", err)
	}
	m.notifier.ParticipantJoined(ctx, call, channelID, userID)
	return success(call.ID)
}

// RemoveParticipant announces a user leaving one side. The stored user set
// is append-only, so history keeps everyone who ever spoke.
func (m *Manager) RemoveParticipant(ctx context.Context, channelID, userID string) CallResult {
	call, err := m.resolveCall(ctx, channelID)
	if err != nil {
		return failure(CodeRedisError, "call state is unavailable, try again shortly")
	}
	if call == nil {
		return failure(CodeCallNotFound, "this channel is not in a call")
	}
	m.notifier.ParticipantLeft(ctx, call, channelID, userID)
	return success(call.ID)
}

// FlagCall pins or unpins a call against retention.
func (m *Manager) FlagCall(ctx context.Context, callID string, flagged bool) error {
	return m.repo.SetFlagged(ctx, callID, flagged)
}

// resolveCall is the cache-first busy lookup. A cache miss falls back to
// the repository; an ongoing call found there repopulates the cache so the
// next lookup is hot again.
func (m *Manager) resolveCall(ctx context.Context, channelID string) (*ActiveCall, error) {
	call, err := m.cache.GetActiveCall(ctx, channelID)
	if err != nil {
		m.log.Warn("call cache lookup failed", "channel_id", channelID, "err", err)
	} else if call != nil {
		return call, nil
	}

	call, err = m.repo.FindOngoingByChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if call == nil {
		return nil, nil
	}
	if cacheErr := m.cache.CacheActiveCall(ctx, call); cacheErr != nil {
		m.log.Warn("call cache repopulate failed", "call_id", call.ID, "err", cacheErr)
	}
	return call, nil
}

// ensureWebhook returns the channel's relay webhook, creating and caching
// one on first use.
func (m *Manager) ensureWebhook(ctx context.Context, channelID string) (string, error) {
	if url, err := m.cache.GetWebhook(ctx, channelID); err != nil {
		m.log.Warn("webhook cache lookup failed", "channel_id", channelID, "err", err)
	} else if url != "" {
		return url, nil
	}

	url, err := m.gw.CreateChannelWebhook(ctx, channelID, relayWebhookName)
	if err != nil {
		return "", err
	}
	if err := m.cache.CacheWebhook(ctx, channelID, url); err != nil {
		m.log.Warn("webhook cache write failed", "channel_id", channelID, "err", err)
	}
	return url, nil
}

// endCall performs the teardown shared by hangup, skip, and relay failure.
// The durable record is closed first, then the cache entries, then the
// participants are told. Notification failures never leak out.
func (m *Manager) endCall(ctx context.Context, call *ActiveCall, reason string) error {
	now := m.clock()
	if err := m.repo.EndCall(ctx, call.ID, now); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := m.cache.RemoveActiveCall(ctx, call.Participants[0].ChannelID); err != nil {
		m.log.Warn("call cache removal failed", "call_id", call.ID, "err", err)
	}

	call.Status = CallStatusEnded
	call.EndedAt = &now

	m.notifier.CallEnded(ctx, call, reason)
	m.publish(events.Event{
		Type: events.TypeCallEnded,
		Ended: &events.CallEnded{
			CallID:          call.ID,
			Reason:          reason,
			DurationSeconds: call.Duration(now).Seconds(),
			MessageCount:    len(call.Messages),
		},
	})
	m.log.Info("call ended", "call_id", call.ID, "reason", reason, "duration", call.Duration(now))
	return nil
}

func (m *Manager) publish(ev events.Event) {
	if m.dispatcher == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.OccurredAt = m.clock()
	m.dispatcher.Publish(context.Background(), ev)
}
