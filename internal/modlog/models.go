package modlog

import "time"

// Entry is an immutable, append-only moderation log record.
//
// Invariants:
// - Entries are never updated or deleted.
// - hub_id is required so hub moderators only ever see their own log.
// - actor resolution is best-effort; do not block message flows on modlog failures.
//
// Storage recommendation (Postgres):
// - Table modlog_entries with an INSERT-only policy.
// - Optional: trigger to prevent UPDATE/DELETE.

type Entry struct {
	ID    string `json:"id" db:"id"`
	HubID string `json:"hub_id" db:"hub_id"`

	// Type indicates the moderation action category.
	Type EntryType `json:"type" db:"type"`

	// ActorID is who performed the action. For deletions resolved via the
	// audit heuristic this may equal AuthorID (self-delete).
	ActorID string `json:"actor_id,omitempty" db:"actor_id"`

	// AuthorID is whose content was acted on.
	AuthorID string `json:"author_id,omitempty" db:"author_id"`

	// Target identifiers (optional, depending on the entry type).
	MessageID string `json:"message_id,omitempty" db:"message_id"`
	ChannelID string `json:"channel_id,omitempty" db:"channel_id"`
	CallID    string `json:"call_id,omitempty" db:"call_id"`

	// Reason is a short human-readable description for hub moderators.
	Reason string `json:"reason,omitempty" db:"reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EntryType string

const (
	EntryTypeMessageDelete EntryType = "message_delete"
	EntryTypeCallFlag      EntryType = "call_flag"
	EntryTypeDisconnect    EntryType = "connection_disconnect"
)
