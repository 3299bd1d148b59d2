package userphone

import (
	"context"
	"time"
)

// Repository is the durable system of record for calls.
//
// The cache owns live routing; this store owns history, reporting, and the
// retention policy. Both must eventually agree: the manager writes here on
// every lifecycle transition and falls back here on a cache miss.
type Repository interface {
	// CreateCall persists a newly matched call with its participants.
	CreateCall(ctx context.Context, call *ActiveCall) error

	// GetCall loads a call with participants and messages.
	// Returns ErrNotFound if absent.
	GetCall(ctx context.Context, callID string) (*ActiveCall, error)

	// FindOngoingByChannel resolves a participant channel to its ongoing
	// call. Returns nil, nil when the channel is idle.
	FindOngoingByChannel(ctx context.Context, channelID string) (*ActiveCall, error)

	// EndCall marks the call ended. Idempotent.
	EndCall(ctx context.Context, callID string, endedAt time.Time) error

	// AppendMessage appends to the call's message log and records the
	// author in the sending participant's user set.
	AppendMessage(ctx context.Context, callID, channelID string, msg CallMessage) error

	// SetFlagged pins or unpins the call against retention.
	SetFlagged(ctx context.Context, callID string, flagged bool) error

	// ListCallsBetween returns calls created inside [from, to), used by
	// reporting. Messages are included; order is by creation time.
	ListCallsBetween(ctx context.Context, from, to time.Time) ([]*ActiveCall, error)

	// PurgeEndedBefore deletes ended, unflagged calls whose end time is
	// before cutoff. Ongoing calls are never touched. Returns rows purged.
	PurgeEndedBefore(ctx context.Context, cutoff time.Time) (int, error)
}
