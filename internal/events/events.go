package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Type enumerates call lifecycle events. Handlers switch on Type and read
// exactly one payload field; adding a Type means adding a payload variant,
// which keeps handling exhaustive rather than stringly-typed.
type Type string

const (
	TypeCallQueued  Type = "call.queued"
	TypeCallMatched Type = "call.matched"
	TypeCallMessage Type = "call.message"
	TypeCallEnded   Type = "call.ended"
	TypeCallTimeout Type = "call.timeout"
)

// Event is an enum-keyed variant: exactly one payload pointer is non-nil,
// matching Type.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`

	Queued  *CallQueued  `json:"queued,omitempty"`
	Matched *CallMatched `json:"matched,omitempty"`
	Message *CallMessage `json:"message,omitempty"`
	Ended   *CallEnded   `json:"ended,omitempty"`
	Timeout *CallTimeout `json:"timeout,omitempty"`
}

// Payloads are flat data, deliberately decoupled from the userphone domain
// types so consumers (and the wire schema) do not track internal shapes.

type CallQueued struct {
	RequestID string `json:"request_id"`
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id"`
	Position  int    `json:"position"`
}

type CallMatched struct {
	CallID      string   `json:"call_id"`
	ChannelIDs  []string `json:"channel_ids"`
	GuildIDs    []string `json:"guild_ids"`
	WaitSeconds float64  `json:"wait_seconds"`
}

type CallMessage struct {
	CallID    string `json:"call_id"`
	ChannelID string `json:"channel_id"`
	AuthorID  string `json:"author_id"`
}

type CallEnded struct {
	CallID          string  `json:"call_id"`
	Reason          string  `json:"reason"` // hangup | skip | relay_failure
	DurationSeconds float64 `json:"duration_seconds"`
	MessageCount    int     `json:"message_count"`
}

type CallTimeout struct {
	RequestID string `json:"request_id"`
	ChannelID string `json:"channel_id"`
}

// Handler consumes one event. Handlers must be non-blocking or fast;
// publishing is synchronous and ordered per caller.
type Handler func(ctx context.Context, e Event)

// Dispatcher is a typed in-process pub/sub hub. Registration happens at
// startup, before Publish is ever called; the lock covers late inspection
// in tests rather than a dynamic subscribe/unsubscribe lifecycle.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []Handler
	log      *slog.Logger
}

func NewDispatcher(log *slog.Logger) *Dispatcher {
	return &Dispatcher{log: log}
}

func (d *Dispatcher) Register(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// Publish delivers the event to every handler. A panicking handler is
// contained and logged; event delivery must never take the call path down.
func (d *Dispatcher) Publish(ctx context.Context, e Event) {
	d.mu.RLock()
	handlers := d.handlers
	d.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if p := recover(); p != nil {
					d.log.Error("event handler panicked", "type", string(e.Type), "panic", p)
				}
			}()
			h(ctx, e)
		}()
	}
}
