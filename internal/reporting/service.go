package reporting

import (
	"context"
	"errors"
	"sort"
	"time"

	"interchat/internal/userphone"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Service aggregates call metrics from the durable call store.
//
// Queries run over the retention-bounded repository, so summaries only see
// calls the retention policy has not yet purged (plus flagged ones, which
// are pinned).

type Service struct {
	repo  userphone.Repository
	clock func() time.Time
}

func NewService(repo userphone.Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	calls, err := s.repo.ListCallsBetween(ctx, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	now := s.clock()
	speakers := make(map[string]struct{})
	out := CallsSummary{Range: req.Range}
	for _, c := range calls {
		out.TotalCalls++
		out.TotalMessages += len(c.Messages)
		out.TotalDurationSeconds += int(c.Duration(now).Seconds())
		switch c.Status {
		case userphone.CallStatusOngoing:
			out.OngoingCalls++
		case userphone.CallStatusEnded:
			out.EndedCalls++
		}
		if c.Flagged {
			out.FlaggedCalls++
		}
		for _, m := range c.Messages {
			speakers[m.AuthorID] = struct{}{}
		}
	}
	out.UniqueSpeakers = len(speakers)
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}
	return out, nil
}

func (s *Service) Activity(ctx context.Context, req ActivityRequest) (ActivityReport, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return ActivityReport{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return ActivityReport{}, errors.New("reporting: repository not configured")
	}
	top := req.Top
	if top <= 0 || top > 100 {
		top = 20
	}

	calls, err := s.repo.ListCallsBetween(ctx, req.Range.From, req.Range.To)
	if err != nil {
		return ActivityReport{}, err
	}

	byGuild := make(map[string]*GuildActivity)
	for _, c := range calls {
		for _, p := range c.Participants {
			g, ok := byGuild[p.GuildID]
			if !ok {
				g = &GuildActivity{GuildID: p.GuildID}
				byGuild[p.GuildID] = g
			}
			g.Calls++
		}
		// Messages attribute to the side whose participant set contains
		// the author; ambiguous authors count toward both sides.
		for _, m := range c.Messages {
			for _, p := range c.Participants {
				if p.Users.Has(m.AuthorID) {
					byGuild[p.GuildID].Messages++
				}
			}
		}
	}

	out := ActivityReport{Range: req.Range}
	for _, g := range byGuild {
		out.Guilds = append(out.Guilds, *g)
	}
	sort.Slice(out.Guilds, func(i, j int) bool {
		if out.Guilds[i].Calls != out.Guilds[j].Calls {
			return out.Guilds[i].Calls > out.Guilds[j].Calls
		}
		return out.Guilds[i].GuildID < out.Guilds[j].GuildID
	})
	if len(out.Guilds) > top {
		out.Guilds = out.Guilds[:top]
	}
	return out, nil
}
