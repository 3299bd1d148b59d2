package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"
)

// Discord platform error code for a revoked webhook token.
// ErrCodeUnknownWebhook/ErrCodeUnknownChannel are exported by discordgo;
// this one is not, so it is pinned here.
const errCodeInvalidWebhookToken = 50027

// DiscordGateway delivers messages through Discord webhooks.
//
// The session is used in REST-only mode: no gateway socket is opened here.
// Event intake lives with the command/event layer that drives the core.
type DiscordGateway struct {
	session *discordgo.Session
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewDiscord builds a REST-only Discord gateway.
// sendsPerSecond bounds outbound webhook executes across all fan-outs;
// Discord's own per-route buckets still apply underneath.
func NewDiscord(botToken string, sendsPerSecond float64, log *slog.Logger) (*DiscordGateway, error) {
	s, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	if sendsPerSecond <= 0 {
		sendsPerSecond = 25
	}
	return &DiscordGateway{
		session: s,
		limiter: rate.NewLimiter(rate.Limit(sendsPerSecond), int(sendsPerSecond)),
		log:     log,
	}, nil
}

func (g *DiscordGateway) Name() string { return "discord" }

func (g *DiscordGateway) Send(ctx context.Context, webhookURL string, p Payload) (*Message, error) {
	id, token, err := ParseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := &discordgo.WebhookParams{
		Content:    p.Content,
		Username:   p.Username,
		AvatarURL:  p.AvatarURL,
		Components: buttonsToComponents(p.Buttons),
	}
	if p.AttachmentURL != "" {
		params.Content = params.Content + "\n" + p.AttachmentURL
	}

	var msg *discordgo.Message
	if p.ThreadID != "" {
		msg, err = g.session.WebhookThreadExecute(id, token, true, p.ThreadID, params, discordgo.WithContext(ctx))
	} else {
		msg, err = g.session.WebhookExecute(id, token, true, params, discordgo.WithContext(ctx))
	}
	if err != nil {
		return nil, g.classify(err)
	}
	return fromDiscordMessage(msg), nil
}

func (g *DiscordGateway) EditMessage(ctx context.Context, webhookURL, messageID string, p Payload) error {
	id, token, err := ParseWebhookURL(webhookURL)
	if err != nil {
		return err
	}

	edit := &discordgo.WebhookEdit{}
	if p.Content != "" {
		edit.Content = &p.Content
	}
	// A non-nil empty Buttons slice is an explicit clear; nil leaves the
	// message's components untouched.
	if p.Buttons != nil {
		components := buttonsToComponents(p.Buttons)
		if components == nil {
			components = []discordgo.MessageComponent{}
		}
		edit.Components = &components
	}

	if p.ThreadID != "" {
		// discordgo's webhook edit helper is not thread-aware; hit the
		// endpoint directly with the thread_id query.
		endpoint := discordgo.EndpointWebhookMessage(id, token, messageID) + "?thread_id=" + p.ThreadID
		_, err = g.session.RequestWithBucketID(http.MethodPatch, endpoint, edit, discordgo.EndpointWebhookMessage(id, "", ""), discordgo.WithContext(ctx))
	} else {
		_, err = g.session.WebhookMessageEdit(id, token, messageID, edit, discordgo.WithContext(ctx))
	}
	if err != nil {
		return g.classify(err)
	}
	return nil
}

func (g *DiscordGateway) DeleteMessage(ctx context.Context, webhookURL, messageID, threadID string) error {
	id, token, err := ParseWebhookURL(webhookURL)
	if err != nil {
		return err
	}

	if threadID != "" {
		endpoint := discordgo.EndpointWebhookMessage(id, token, messageID) + "?thread_id=" + threadID
		_, err = g.session.RequestWithBucketID(http.MethodDelete, endpoint, nil, discordgo.EndpointWebhookMessage(id, "", ""), discordgo.WithContext(ctx))
	} else {
		err = g.session.WebhookMessageDelete(id, token, messageID, discordgo.WithContext(ctx))
	}
	if err != nil {
		return g.classify(err)
	}
	return nil
}

func (g *DiscordGateway) FetchMessage(ctx context.Context, webhookURL, messageID string) (*Message, error) {
	id, token, err := ParseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	msg, err := g.session.WebhookMessage(id, token, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, g.classify(err)
	}
	return fromDiscordMessage(msg), nil
}

func (g *DiscordGateway) CreateChannelWebhook(ctx context.Context, channelID, name string) (string, error) {
	wh, err := g.session.WebhookCreate(channelID, name, "", discordgo.WithContext(ctx))
	if err != nil {
		return "", g.classify(err)
	}
	return fmt.Sprintf("https://discord.com/api/webhooks/%s/%s", wh.ID, wh.Token), nil
}

// RecentDeleter scans the guild audit log for a message-delete entry that
// targets authorID in channelID inside the window. The most recent matching
// actor is returned; absence means the author self-deleted.
func (g *DiscordGateway) RecentDeleter(ctx context.Context, guildID, channelID, authorID string, window time.Duration) (string, bool) {
	al, err := g.session.GuildAuditLog(guildID, "", "", int(discordgo.AuditLogActionMessageDelete), 10, discordgo.WithContext(ctx))
	if err != nil {
		g.log.Warn("audit log lookup failed", "guild_id", guildID, "err", err)
		return "", false
	}
	cutoff := time.Now().Add(-window)
	for _, e := range al.AuditLogEntries {
		if e.TargetID != authorID {
			continue
		}
		if e.Options != nil && e.Options.ChannelID != channelID {
			continue
		}
		ts, err := discordgo.SnowflakeTimestamp(e.ID)
		if err != nil || ts.Before(cutoff) {
			continue
		}
		return e.UserID, true
	}
	return "", false
}

// classify maps platform REST errors onto the gateway error contract.
func (g *DiscordGateway) classify(err error) error {
	var rerr *discordgo.RESTError
	if !errors.As(err, &rerr) {
		return err
	}
	if rerr.Message != nil {
		switch rerr.Message.Code {
		case discordgo.ErrCodeUnknownWebhook, discordgo.ErrCodeUnknownChannel, errCodeInvalidWebhookToken:
			return fmt.Errorf("%w: %v", ErrWebhookGone, err)
		}
	}
	if rerr.Response != nil && rerr.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", ErrWebhookGone, err)
	}
	return err
}

func buttonsToComponents(buttons []Button) []discordgo.MessageComponent {
	if len(buttons) == 0 {
		return nil
	}
	row := discordgo.ActionsRow{}
	for _, b := range buttons {
		row.Components = append(row.Components, discordgo.Button{
			Label:    b.Label,
			Style:    discordgo.SecondaryButton,
			CustomID: b.CustomID,
			Disabled: b.Disabled,
		})
	}
	return []discordgo.MessageComponent{row}
}

func fromDiscordMessage(m *discordgo.Message) *Message {
	if m == nil {
		return nil
	}
	return &Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
}
