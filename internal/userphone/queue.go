package userphone

import (
	"sort"
	"sync"
	"time"
)

// Queue holds pending call requests for this process.
//
// Ordering contract: higher Priority is served first; within a priority,
// FIFO by enqueue timestamp. Request ids break exact-timestamp ties so the
// order is total and stable.
//
// The queue itself is process-local. Cross-process "is this channel busy"
// arbitration belongs to the cache layer; the queue only answers for
// requests this cluster owns.
type Queue struct {
	mu        sync.Mutex
	requests  map[string]CallRequest // by request id
	byChannel map[string]string      // channel id → request id
	clock     func() time.Time
}

func NewQueue() *Queue {
	return &Queue{
		requests:  make(map[string]CallRequest),
		byChannel: make(map[string]string),
		clock:     time.Now,
	}
}

// Enqueue adds a request and returns its queue status.
// Fails with ErrAlreadyQueued if the channel already has a pending request;
// the caller checks call membership separately (cache is authoritative).
func (q *Queue) Enqueue(req CallRequest) (QueueStatus, error) {
	if req.ID == "" || req.ChannelID == "" {
		return QueueStatus{}, ErrInvalidArgument
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.byChannel[req.ChannelID]; ok {
		return QueueStatus{}, ErrAlreadyQueued
	}

	q.requests[req.ID] = req
	q.byChannel[req.ChannelID] = req.ID

	return q.statusLocked(req.ChannelID, q.clock()), nil
}

// Dequeue removes a request by id. Returns false if absent.
func (q *Queue) Dequeue(requestID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(requestID)
}

// DequeueByChannel removes whatever request the channel has pending.
func (q *Queue) DequeueByChannel(channelID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	id, ok := q.byChannel[channelID]
	if !ok {
		return false
	}
	return q.removeLocked(id)
}

// Take removes both requests atomically, or neither. Used by the matching
// engine to commit a pair: if either request was cancelled between selection
// and commit, the whole commit aborts.
func (q *Queue) Take(requestIDA, requestIDB string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.requests[requestIDA]; !ok {
		return false
	}
	if _, ok := q.requests[requestIDB]; !ok {
		return false
	}
	q.removeLocked(requestIDA)
	q.removeLocked(requestIDB)
	return true
}

// Status returns the channel's position and the queue length, or nil if
// the channel is not queued. An expired-but-unevicted request reports as
// not queued, matching what Pending() would serve.
func (q *Queue) Status(channelID string) *QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock()
	id, ok := q.byChannel[channelID]
	if !ok || requestExpired(q.requests[id], now) {
		return nil
	}
	st := q.statusLocked(channelID, now)
	return &st
}

// InQueue reports whether the channel has a pending request.
func (q *Queue) InQueue(channelID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byChannel[channelID]
	return ok
}

// Len returns the number of non-expired pending requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock()
	n := 0
	for _, r := range q.requests {
		if !requestExpired(r, now) {
			n++
		}
	}
	return n
}

// Pending returns all non-expired requests in serving order.
// Expired requests are NOT returned; callers run EvictExpired first to
// collect them for timeout notification.
func (q *Queue) Pending() []CallRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock()
	out := make([]CallRequest, 0, len(q.requests))
	for _, r := range q.requests {
		if requestExpired(r, now) {
			continue
		}
		out = append(out, r)
	}
	sortRequests(out)
	return out
}

// EvictExpired removes and returns every request past its expiry.
func (q *Queue) EvictExpired(now time.Time) []CallRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	var evicted []CallRequest
	for id, r := range q.requests {
		if requestExpired(r, now) {
			evicted = append(evicted, r)
			q.removeLocked(id)
		}
	}
	sortRequests(evicted)
	return evicted
}

func (q *Queue) removeLocked(requestID string) bool {
	r, ok := q.requests[requestID]
	if !ok {
		return false
	}
	delete(q.requests, requestID)
	delete(q.byChannel, r.ChannelID)
	return true
}

func (q *Queue) statusLocked(channelID string, now time.Time) QueueStatus {
	ordered := make([]CallRequest, 0, len(q.requests))
	for _, r := range q.requests {
		if requestExpired(r, now) {
			continue
		}
		ordered = append(ordered, r)
	}
	sortRequests(ordered)

	st := QueueStatus{QueueLength: len(ordered)}
	for i, r := range ordered {
		if r.ChannelID == channelID {
			st.Position = i + 1
			break
		}
	}
	return st
}

func requestExpired(r CallRequest, now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

func sortRequests(rs []CallRequest) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Priority != rs[j].Priority {
			return rs[i].Priority > rs[j].Priority
		}
		if !rs[i].Timestamp.Equal(rs[j].Timestamp) {
			return rs[i].Timestamp.Before(rs[j].Timestamp)
		}
		return rs[i].ID < rs[j].ID
	})
}
