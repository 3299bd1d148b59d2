package modlog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for moderation log entries.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Entry) error

	// ListByHub returns entries for one hub, newest first.
	ListByHub(ctx context.Context, hubID string, limit int) ([]Entry, error)
}

// Service records moderation actions across hubs.
//
// Callers should treat moderation logging as best-effort: the convenience
// Record* methods log failures instead of returning them, so relays never
// stall on the modlog.

type Service struct {
	repo  Repository
	clock func() time.Time
	log   *slog.Logger
}

func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{repo: repo, clock: time.Now, log: log}
}

var ErrInvalidEntry = errors.New("modlog: invalid entry")

func (s *Service) Append(ctx context.Context, e Entry) error {
	if s.repo == nil {
		return errors.New("modlog: repository not configured")
	}
	if e.HubID == "" {
		return ErrInvalidEntry
	}
	if e.Type == "" {
		return ErrInvalidEntry
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// RecordDeletion logs a broadcast message deletion. Satisfies the pipeline's
// DeletionLogger contract.
func (s *Service) RecordDeletion(ctx context.Context, hubID, messageID, actorID, authorID string) {
	err := s.Append(ctx, Entry{
		HubID:     hubID,
		Type:      EntryTypeMessageDelete,
		ActorID:   actorID,
		AuthorID:  authorID,
		MessageID: messageID,
	})
	if err != nil {
		s.log.Warn("modlog append failed", "hub_id", hubID, "err", err)
	}
}

// RecordCallFlag logs a call being pinned (or unpinned) for moderation.
func (s *Service) RecordCallFlag(ctx context.Context, hubID, callID, actorID, reason string) {
	err := s.Append(ctx, Entry{
		HubID:   hubID,
		Type:    EntryTypeCallFlag,
		ActorID: actorID,
		CallID:  callID,
		Reason:  reason,
	})
	if err != nil {
		s.log.Warn("modlog append failed", "hub_id", hubID, "err", err)
	}
}

// RecordDisconnect logs a connection being gated out of a hub.
func (s *Service) RecordDisconnect(ctx context.Context, hubID, channelID, actorID, reason string) {
	err := s.Append(ctx, Entry{
		HubID:     hubID,
		Type:      EntryTypeDisconnect,
		ActorID:   actorID,
		ChannelID: channelID,
		Reason:    reason,
	})
	if err != nil {
		s.log.Warn("modlog append failed", "hub_id", hubID, "err", err)
	}
}

// ListByHub exposes a hub's log for the admin API.
func (s *Service) ListByHub(ctx context.Context, hubID string, limit int) ([]Entry, error) {
	if hubID == "" {
		return nil, ErrInvalidEntry
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListByHub(ctx, hubID, limit)
}
