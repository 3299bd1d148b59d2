package broadcast

import (
	"sort"
	"time"
)

// Hub is a named group of channels across servers that mirror each other's
// messages.
type Hub struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	Private   bool      `json:"private"`
	CreatedAt time.Time `json:"created_at"`
}

// Connection is one channel's membership in a hub, with the webhook used
// to deliver mirrored messages into it.
type Connection struct {
	ID         string `json:"id"`
	HubID      string `json:"hub_id"`
	ChannelID  string `json:"channel_id"`
	GuildID    string `json:"guild_id"`
	WebhookURL string `json:"webhook_url"`

	// ParentID is set when ChannelID is a thread; delivery then targets
	// the thread under the parent's webhook.
	ParentID string `json:"parent_id,omitempty"`

	// Connected gates fan-out. Flipped off when the webhook turns out to
	// be gone, back on by an explicit reconnect.
	Connected bool `json:"connected"`

	EmbedColor string    `json:"embed_color,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// OutboundMessage is the hub message being fanned out, already shaped for
// webhook delivery.
type OutboundMessage struct {
	HubID          string
	OriginID       string // original platform message id
	OriginChannel  string
	AuthorID       string
	AuthorUsername string
	AvatarURL      string
	Content        string
	AttachmentURL  string
}

// Copy records one delivered broadcast copy: which channel got it and the
// remote message id the platform assigned.
type Copy struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`

	// ThreadID is carried so edits and deletes can target the thread.
	ThreadID string `json:"thread_id,omitempty"`
}

// Mapping is the full broadcast set for one original message. It is the
// source of truth for edit/delete/reaction propagation; entries for failed
// sends are simply absent.
type Mapping struct {
	HubID         string `json:"hub_id"`
	OriginID      string `json:"origin_id"`
	OriginChannel string `json:"origin_channel"`
	AuthorID      string `json:"author_id"`
	Copies        []Copy `json:"copies"`
}

// CopyFor returns the copy delivered to channelID, or nil.
func (m *Mapping) CopyFor(channelID string) *Copy {
	for i := range m.Copies {
		if m.Copies[i].ChannelID == channelID {
			return &m.Copies[i]
		}
	}
	return nil
}

// ReactionMap tracks reactors per emoji for one original message.
// One entry per user per emoji; dedup is the map's job, not the caller's.
type ReactionMap map[string][]string

// Add registers userID under emoji. Reports whether the map changed.
func (r ReactionMap) Add(emoji, userID string) bool {
	for _, u := range r[emoji] {
		if u == userID {
			return false
		}
	}
	r[emoji] = append(r[emoji], userID)
	return true
}

// Remove drops userID from emoji, deleting the emoji when its last reactor
// leaves. Reports whether the map changed.
func (r ReactionMap) Remove(emoji, userID string) bool {
	users := r[emoji]
	for i, u := range users {
		if u == userID {
			users = append(users[:i], users[i+1:]...)
			if len(users) == 0 {
				delete(r, emoji)
			} else {
				r[emoji] = users
			}
			return true
		}
	}
	return false
}

// Total counts all reactors across emoji.
func (r ReactionMap) Total() int {
	n := 0
	for _, users := range r {
		n += len(users)
	}
	return n
}

// Top returns the emoji with the most reactors. Ties break by emoji string
// so rendering is stable across updates.
func (r ReactionMap) Top() (emoji string, count int) {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if len(r[k]) > count {
			emoji, count = k, len(r[k])
		}
	}
	return emoji, count
}
