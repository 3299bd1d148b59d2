package gateway

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Gateway is the provider-agnostic webhook delivery interface used by the
// call subsystem and the broadcast pipeline.
//
// Rules:
// - No platform SDK calls outside gateway adapters.
// - Webhook URLs carry their own credentials; callers treat them as opaque.
// - Delivery errors are per-recipient and must be inspectable via
//   errors.Is(err, ErrWebhookGone) so callers can self-heal dead endpoints.
type Gateway interface {
	Name() string

	// Send executes the webhook and returns the created message.
	// Thread-aware: Payload.ThreadID routes into a thread when set.
	Send(ctx context.Context, webhookURL string, p Payload) (*Message, error)

	// EditMessage applies a new payload to an existing webhook message.
	EditMessage(ctx context.Context, webhookURL, messageID string, p Payload) error

	// DeleteMessage removes a webhook message.
	DeleteMessage(ctx context.Context, webhookURL, messageID, threadID string) error

	// FetchMessage retrieves a webhook message by id.
	FetchMessage(ctx context.Context, webhookURL, messageID string) (*Message, error)

	// CreateChannelWebhook provisions a webhook on a channel and returns
	// its URL. Used when a call participant has no cached webhook.
	CreateChannelWebhook(ctx context.Context, channelID, name string) (string, error)
}

// AuditSource resolves who deleted a message, via the platform audit log.
// Implementations return ("", false) when no matching entry exists inside
// the window; callers then assume the author self-deleted.
type AuditSource interface {
	RecentDeleter(ctx context.Context, guildID, channelID, authorID string, window time.Duration) (actorID string, ok bool)
}

// ErrWebhookGone marks delivery failures whose endpoint no longer exists
// (deleted webhook, deleted channel, revoked token). The connection behind
// it should be deactivated rather than retried.
var ErrWebhookGone = errors.New("gateway: webhook gone")

// Payload is the provider-agnostic outbound message shape.
type Payload struct {
	Content   string
	Username  string // display-name override on the webhook message
	AvatarURL string

	// AttachmentURL is relayed as-is; the platform unfurls it.
	AttachmentURL string

	// ThreadID routes delivery into a thread under the webhook's channel.
	ThreadID string

	// Buttons render as a single component row (reaction summary).
	Buttons []Button
}

// Button is a minimal component: a label the user can press.
type Button struct {
	Label    string
	CustomID string
	Disabled bool
}

// Message is the provider-agnostic view of a delivered message.
type Message struct {
	ID        string
	ChannelID string
	Content   string
	Timestamp time.Time
}

var webhookURLRe = regexp.MustCompile(`/webhooks/(\d+)/([\w-]+)`)

// ParseWebhookURL extracts the webhook id and token from a webhook URL.
func ParseWebhookURL(url string) (id, token string, err error) {
	m := webhookURLRe.FindStringSubmatch(url)
	if m == nil {
		return "", "", fmt.Errorf("gateway: malformed webhook url")
	}
	return m[1], m[2], nil
}
