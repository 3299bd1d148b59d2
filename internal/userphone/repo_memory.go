package userphone

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests.
// It is not intended for production use.
type MemoryRepo struct {
	mu    sync.Mutex
	calls map[string]*ActiveCall
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{calls: make(map[string]*ActiveCall)}
}

func (r *MemoryRepo) CreateCall(ctx context.Context, call *ActiveCall) error {
	if call == nil || call.ID == "" {
		return ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[call.ID] = cloneCall(call)
	return nil
}

func (r *MemoryRepo) GetCall(ctx context.Context, callID string) (*ActiveCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneCall(c), nil
}

func (r *MemoryRepo) FindOngoingByChannel(ctx context.Context, channelID string) (*ActiveCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.Status != CallStatusOngoing {
			continue
		}
		if c.Participant(channelID) != nil {
			return cloneCall(c), nil
		}
	}
	return nil, nil
}

func (r *MemoryRepo) EndCall(ctx context.Context, callID string, endedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return ErrNotFound
	}
	if c.Status == CallStatusEnded {
		return nil
	}
	c.Status = CallStatusEnded
	c.EndedAt = &endedAt
	return nil
}

func (r *MemoryRepo) AppendMessage(ctx context.Context, callID, channelID string, msg CallMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return ErrNotFound
	}
	p := c.Participant(channelID)
	if p == nil {
		return ErrNotFound
	}
	if p.Users == nil {
		p.Users = NewUserSet()
	}
	p.Users.Add(msg.AuthorID)
	c.Messages = append(c.Messages, msg)
	return nil
}

func (r *MemoryRepo) SetFlagged(ctx context.Context, callID string, flagged bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return ErrNotFound
	}
	c.Flagged = flagged
	return nil
}

func (r *MemoryRepo) ListCallsBetween(ctx context.Context, from, to time.Time) ([]*ActiveCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*ActiveCall
	for _, c := range r.calls {
		if c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
			continue
		}
		out = append(out, cloneCall(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepo) PurgeEndedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	purged := 0
	for id, c := range r.calls {
		if c.Status != CallStatusEnded || c.Flagged {
			continue
		}
		if c.EndedAt != nil && c.EndedAt.Before(cutoff) {
			delete(r.calls, id)
			purged++
		}
	}
	return purged, nil
}

// cloneCall deep-copies so callers cannot mutate stored state in place.
func cloneCall(c *ActiveCall) *ActiveCall {
	out := &ActiveCall{
		ID:        c.ID,
		Status:    c.Status,
		CreatedAt: c.CreatedAt,
		Flagged:   c.Flagged,
	}
	if c.EndedAt != nil {
		t := *c.EndedAt
		out.EndedAt = &t
	}
	for _, p := range c.Participants {
		cp := &CallParticipant{
			ChannelID:  p.ChannelID,
			GuildID:    p.GuildID,
			WebhookURL: p.WebhookURL,
			Users:      NewUserSet(),
		}
		for id := range p.Users {
			cp.Users.Add(id)
		}
		out.Participants = append(out.Participants, cp)
	}
	out.Messages = append(out.Messages, c.Messages...)
	return out
}
