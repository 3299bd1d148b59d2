package userphone

import (
	"encoding/json"
	"sort"
	"time"
)

// CallStatus is the lifecycle state of a call record.
type CallStatus string

const (
	CallStatusOngoing CallStatus = "ONGOING"
	CallStatusEnded   CallStatus = "ENDED"
)

// CallRequest is a channel waiting in the queue for a partner.
// Requests are immutable once enqueued; they are consumed (deleted) when
// matched, cancelled, or expired.
type CallRequest struct {
	ID          string    `json:"id"`
	ChannelID   string    `json:"channel_id"`
	GuildID     string    `json:"guild_id"`
	InitiatorID string    `json:"initiator_id"`
	WebhookURL  string    `json:"webhook_url"`
	Timestamp   time.Time `json:"timestamp"`

	// Priority orders the queue: higher values are served first,
	// FIFO by Timestamp within a priority.
	Priority int `json:"priority"`

	// ClusterID tags the owning process in a sharded deployment.
	ClusterID string `json:"cluster_id,omitempty"`

	// ExpiresAt is when the request times out and is evicted.
	ExpiresAt time.Time `json:"expires_at"`
}

// UserSet is a set of user ids with a defined serialization contract:
// a sorted JSON array. The in-memory shape stays a set so dedup holds
// by construction.
type UserSet map[string]struct{}

func NewUserSet(ids ...string) UserSet {
	s := make(UserSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s UserSet) Add(id string) { s[id] = struct{}{} }

func (s UserSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s UserSet) MarshalJSON() ([]byte, error) {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return json.Marshal(ids)
}

func (s *UserSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	out := make(UserSet, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	*s = out
	return nil
}

// CallParticipant is one side of a call. Exactly two exist per ongoing call.
// Users accumulates every distinct user who has spoken from this channel
// during the call. It grows monotonically and is never pruned.
type CallParticipant struct {
	ChannelID  string  `json:"channel_id"`
	GuildID    string  `json:"guild_id"`
	WebhookURL string  `json:"webhook_url"`
	Users      UserSet `json:"users"`
}

// CallMessage is one relayed message. Append-only; never mutated.
type CallMessage struct {
	AuthorID       string    `json:"author_id"`
	AuthorUsername string    `json:"author_username"`
	Content        string    `json:"content"`
	AttachmentURL  string    `json:"attachment_url,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// ActiveCall is a matched pair of channels relaying chat 1:1.
//
// Invariants:
// - exactly two participants while Status == ONGOING
// - participants have distinct ChannelID and distinct GuildID
// - the cache representation round-trips losslessly (see codec tests)
type ActiveCall struct {
	ID           string             `json:"id"`
	Status       CallStatus         `json:"status"`
	Participants []*CallParticipant `json:"participants"`
	Messages     []CallMessage      `json:"messages"`
	CreatedAt    time.Time          `json:"created_at"`
	EndedAt      *time.Time         `json:"ended_at,omitempty"`

	// Flagged pins the record against retention while a moderation
	// report is open.
	Flagged bool `json:"flagged,omitempty"`
}

// Participant returns the side owning channelID, or nil.
func (c *ActiveCall) Participant(channelID string) *CallParticipant {
	for _, p := range c.Participants {
		if p.ChannelID == channelID {
			return p
		}
	}
	return nil
}

// OtherParticipant returns the side opposite channelID, or nil.
func (c *ActiveCall) OtherParticipant(channelID string) *CallParticipant {
	for _, p := range c.Participants {
		if p.ChannelID != channelID {
			return p
		}
	}
	return nil
}

// Duration reports how long the call has run (or ran).
func (c *ActiveCall) Duration(now time.Time) time.Duration {
	if c.EndedAt != nil {
		return c.EndedAt.Sub(c.CreatedAt)
	}
	return now.Sub(c.CreatedAt)
}

// QueueStatus is a derived view of a channel's place in the queue.
// Computed on demand; never persisted.
type QueueStatus struct {
	Position    int `json:"position"`
	QueueLength int `json:"queue_length"`
}

// EncodeCall serializes a call for the cache. DecodeCall is its inverse;
// the pair must round-trip every field including participant user sets.
func EncodeCall(c *ActiveCall) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func DecodeCall(s string) (*ActiveCall, error) {
	var c ActiveCall
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return nil, err
	}
	return &c, nil
}
