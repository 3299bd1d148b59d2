package userphone

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"interchat/internal/events"
)

// MatchResult is the outcome of one pairing attempt.
type MatchResult struct {
	Matched      bool
	CallID       string
	Participants []*CallParticipant

	// MatchTime is how long the longer-waiting request sat in queue.
	MatchTime time.Duration
}

// MatchingStats is an observability snapshot; it has no bearing on
// correctness.
type MatchingStats struct {
	Attempts     int64         `json:"attempts"`
	Matches      int64         `json:"matches"`
	SuccessRate  float64       `json:"success_rate"`
	AvgMatchTime time.Duration `json:"avg_match_time"`
	QueueLength  int           `json:"queue_length"`
}

// rolling window for the average match time.
const matchTimeWindow = 100

// Engine pairs queued requests into calls on a fixed background cadence.
//
// Pairing rule: take the oldest eligible request in serving order, scan the
// rest in order, and select the first candidate with (a) a different
// channel, (b) a different guild, and (c) no recent match between the two
// initiators.
//
// Commit is optimistic: a request may be cancelled between selection and
// commit, so membership is re-validated via an atomic queue take. A failed
// take is a benign abort; the next sweep retries.
type Engine struct {
	queue      *Queue
	cache      CacheManager
	repo       Repository
	notifier   Notifier
	dispatcher *events.Dispatcher

	interval time.Duration
	clock    func() time.Time
	log      *slog.Logger

	statsMu    sync.Mutex
	attempts   int64
	matches    int64
	matchTimes []time.Duration

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewEngine(queue *Queue, cache CacheManager, repo Repository, notifier Notifier, dispatcher *events.Dispatcher, interval time.Duration, log *slog.Logger) *Engine {
	return &Engine{
		queue:      queue,
		cache:      cache,
		repo:       repo,
		notifier:   notifier,
		dispatcher: dispatcher,
		interval:   interval,
		clock:      time.Now,
		log:        log,
	}
}

// Start launches the background sweep. Safe to call once per engine.
func (e *Engine) Start(ctx context.Context) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Sweep(ctx)
			}
		}
	}()
}

// Stop cancels the sweep loop and waits for it to exit.
func (e *Engine) Stop() {
	e.runMu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.runMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Sweep runs one matching pass: evict expired requests, then pair what it
// can. Exported so the manager can trigger a pass outside the ticker and
// tests can drive matching deterministically.
func (e *Engine) Sweep(ctx context.Context) {
	now := e.clock()
	for _, req := range e.queue.EvictExpired(now) {
		e.log.Info("call request timed out", "channel_id", req.ChannelID, "request_id", req.ID)
		e.notifier.QueueTimeout(ctx, req)
		e.publish(events.Event{
			Type:    events.TypeCallTimeout,
			Timeout: &events.CallTimeout{RequestID: req.ID, ChannelID: req.ChannelID},
		})
	}

	// Scan every head in serving order: an unmatchable head (everyone
	// behind it same-guild or inside its rematch window) must not starve
	// eligible pairs queued behind it. A successful match mutates the
	// queue, so the pending snapshot is re-read before the next pass.
	for {
		pending := e.queue.Pending()
		if len(pending) < 2 {
			return
		}
		matched := false
		for i := 0; i < len(pending)-1 && !matched; i++ {
			matched = e.matchFrom(ctx, pending[i], pending[i+1:]).Matched
		}
		if !matched {
			return
		}
	}
}

// FindMatch attempts an immediate pairing for a request that is NOT yet
// enqueued (the initiate fast path). On success the candidate is consumed
// from the queue; on failure the caller enqueues the request instead.
func (e *Engine) FindMatch(ctx context.Context, req CallRequest) MatchResult {
	for _, cand := range e.queue.Pending() {
		if !e.eligible(ctx, req, cand) {
			continue
		}
		// Commit: the candidate must still be queued. A lost race here
		// just falls through to the next candidate.
		if !e.queue.Dequeue(cand.ID) {
			continue
		}
		return e.finalize(ctx, req, cand)
	}
	e.recordAttempt()
	return MatchResult{}
}

// Stats returns a snapshot of the rolling matching metrics.
func (e *Engine) Stats() MatchingStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	st := MatchingStats{
		Attempts:    e.attempts,
		Matches:     e.matches,
		QueueLength: e.queue.Len(),
	}
	if e.attempts > 0 {
		st.SuccessRate = float64(e.matches) / float64(e.attempts)
	}
	if len(e.matchTimes) > 0 {
		var sum time.Duration
		for _, d := range e.matchTimes {
			sum += d
		}
		st.AvgMatchTime = sum / time.Duration(len(e.matchTimes))
	}
	return st
}

func (e *Engine) matchFrom(ctx context.Context, head CallRequest, rest []CallRequest) MatchResult {
	for _, cand := range rest {
		if !e.eligible(ctx, head, cand) {
			continue
		}
		// Re-validate both memberships atomically. Either request may
		// have been cancelled since Pending() was read; an aborted take
		// means retry on the next sweep.
		if !e.queue.Take(head.ID, cand.ID) {
			e.recordAttempt()
			return MatchResult{}
		}
		return e.finalize(ctx, head, cand)
	}
	e.recordAttempt()
	return MatchResult{}
}

// eligible applies the pairing rule between a request and a candidate.
func (e *Engine) eligible(ctx context.Context, req, cand CallRequest) bool {
	if cand.ChannelID == req.ChannelID {
		return false
	}
	if cand.GuildID == req.GuildID {
		return false
	}
	recent, err := e.cache.HasRecentMatch(ctx, req.InitiatorID, cand.InitiatorID)
	if err != nil {
		// Treat a cache outage as "recently matched": skipping a pair is
		// recoverable, re-pairing inside the window is not.
		e.log.Warn("recent-match check failed", "err", err)
		return false
	}
	return !recent
}

// finalize creates the call once both requests are consumed from the queue.
// Failure rolls both requests back into the queue so the sweep can retry;
// the system prefers "did nothing" over "did half of it".
func (e *Engine) finalize(ctx context.Context, a, b CallRequest) MatchResult {
	now := e.clock()
	call := &ActiveCall{
		ID:        uuid.NewString(),
		Status:    CallStatusOngoing,
		CreatedAt: now,
		Participants: []*CallParticipant{
			{ChannelID: a.ChannelID, GuildID: a.GuildID, WebhookURL: a.WebhookURL, Users: NewUserSet(a.InitiatorID)},
			{ChannelID: b.ChannelID, GuildID: b.GuildID, WebhookURL: b.WebhookURL, Users: NewUserSet(b.InitiatorID)},
		},
	}

	if err := e.repo.CreateCall(ctx, call); err != nil {
		e.log.Error("call create failed", "err", err)
		e.requeue(a, b)
		e.recordAttempt()
		return MatchResult{}
	}
	if err := e.cache.CacheActiveCall(ctx, call); err != nil {
		e.log.Error("call cache failed", "call_id", call.ID, "err", err)
		if endErr := e.repo.EndCall(ctx, call.ID, e.clock()); endErr != nil {
			e.log.Error("call rollback failed", "call_id", call.ID, "err", endErr)
		}
		e.requeue(a, b)
		e.recordAttempt()
		return MatchResult{}
	}

	if err := e.cache.RecordRecentMatch(ctx, a.InitiatorID, b.InitiatorID); err != nil {
		// Non-fatal: worst case the pair can rematch sooner than wanted.
		e.log.Warn("recent-match record failed", "err", err)
	}

	wait := now.Sub(a.Timestamp)
	if w := now.Sub(b.Timestamp); w > wait {
		wait = w
	}
	e.recordMatch(wait)

	e.notifier.CallMatched(ctx, call)
	e.publish(events.Event{
		Type: events.TypeCallMatched,
		Matched: &events.CallMatched{
			CallID:      call.ID,
			ChannelIDs:  []string{a.ChannelID, b.ChannelID},
			GuildIDs:    []string{a.GuildID, b.GuildID},
			WaitSeconds: wait.Seconds(),
		},
	})
	e.log.Info("call matched",
		"call_id", call.ID,
		"channel_a", a.ChannelID,
		"channel_b", b.ChannelID,
		"wait", wait,
	)

	return MatchResult{
		Matched:      true,
		CallID:       call.ID,
		Participants: call.Participants,
		MatchTime:    wait,
	}
}

func (e *Engine) requeue(reqs ...CallRequest) {
	for _, r := range reqs {
		if _, err := e.queue.Enqueue(r); err != nil {
			e.log.Warn("requeue after aborted match failed", "channel_id", r.ChannelID, "err", err)
		}
	}
}

func (e *Engine) publish(ev events.Event) {
	if e.dispatcher == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.OccurredAt = e.clock()
	// Detached context: event fan-out must not inherit a caller's
	// cancellation mid-delivery.
	e.dispatcher.Publish(context.Background(), ev)
}

func (e *Engine) recordAttempt() {
	e.statsMu.Lock()
	e.attempts++
	e.statsMu.Unlock()
}

func (e *Engine) recordMatch(wait time.Duration) {
	e.statsMu.Lock()
	e.attempts++
	e.matches++
	e.matchTimes = append(e.matchTimes, wait)
	if len(e.matchTimes) > matchTimeWindow {
		e.matchTimes = e.matchTimes[len(e.matchTimes)-matchTimeWindow:]
	}
	e.statsMu.Unlock()
}
