package userphone

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"interchat/internal/gateway"
)

// fakeGateway is an in-memory gateway.Gateway. Sends are recorded per
// webhook URL; URLs can be marked gone to exercise the failure path.
type fakeGateway struct {
	mu       sync.Mutex
	sent     map[string][]gateway.Payload
	gone     map[string]bool
	hookErr  error
	seq      int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		sent: make(map[string][]gateway.Payload),
		gone: make(map[string]bool),
	}
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) Send(ctx context.Context, webhookURL string, p gateway.Payload) (*gateway.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gone[webhookURL] {
		return nil, fmt.Errorf("execute webhook: %w", gateway.ErrWebhookGone)
	}
	g.sent[webhookURL] = append(g.sent[webhookURL], p)
	g.seq++
	return &gateway.Message{ID: fmt.Sprintf("m%d", g.seq), Timestamp: time.Now()}, nil
}

func (g *fakeGateway) EditMessage(ctx context.Context, webhookURL, messageID string, p gateway.Payload) error {
	return nil
}

func (g *fakeGateway) DeleteMessage(ctx context.Context, webhookURL, messageID, threadID string) error {
	return nil
}

func (g *fakeGateway) FetchMessage(ctx context.Context, webhookURL, messageID string) (*gateway.Message, error) {
	return nil, gateway.ErrWebhookGone
}

func (g *fakeGateway) CreateChannelWebhook(ctx context.Context, channelID, name string) (string, error) {
	if g.hookErr != nil {
		return "", g.hookErr
	}
	return "https://discord.com/api/webhooks/1/hook-" + channelID, nil
}

func (g *fakeGateway) sentTo(webhookURL string) []gateway.Payload {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sent[webhookURL]
}

func (g *fakeGateway) markGone(webhookURL string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gone[webhookURL] = true
}

type managerFixture struct {
	mgr      *Manager
	queue    *Queue
	cache    *MemoryCache
	repo     *MemoryRepo
	gw       *fakeGateway
	notifier *recNotifier
}

func newManagerFixture() *managerFixture {
	q := NewQueue()
	cache := NewMemoryCache()
	repo := NewMemoryRepo()
	gw := newFakeGateway()
	notifier := &recNotifier{}
	engine := NewEngine(q, cache, repo, notifier, nil, time.Second, testLogger())
	mgr := NewManager(q, engine, cache, repo, notifier, gw, nil, 5*time.Minute, testLogger())
	return &managerFixture{mgr: mgr, queue: q, cache: cache, repo: repo, gw: gw, notifier: notifier}
}

func TestInitiateQueuesWhenEmpty(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture()

	res := f.mgr.InitiateCall(ctx, "c1", "g1", "u1", 0)
	if !res.Success || res.Matched {
		t.Fatalf("result = %+v", res)
	}
	if res.Queue == nil || res.Queue.Position != 1 {
		t.Fatalf("queue status = %+v", res.Queue)
	}
	if !f.queue.InQueue("c1") {
		t.Fatal("channel not queued")
	}

	// Webhook provisioned and cached for reuse.
	if url, _ := f.cache.GetWebhook(ctx, "c1"); !strings.Contains(url, "hook-c1") {
		t.Fatalf("webhook not cached: %q", url)
	}
}

func TestInitiateInstantMatch(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture()

	f.mgr.InitiateCall(ctx, "c1", "g1", "u1", 0)
	res := f.mgr.InitiateCall(ctx, "c2", "g2", "u2", 0)
	if !res.Success || !res.Matched || res.CallID == "" {
		t.Fatalf("result = %+v", res)
	}
	if f.queue.Len() != 0 {
		t.Fatal("queue not drained after match")
	}
	if len(f.notifier.matched) != 1 {
		t.Fatalf("matched notifications = %d", len(f.notifier.matched))
	}

	call, err := f.mgr.GetActiveCall(ctx, "c1")
	if err != nil || call == nil || call.ID != res.CallID {
		t.Fatalf("GetActiveCall = %+v, %v", call, err)
	}
}

func TestInitiateRejectsBusyChannel(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture()

	f.mgr.InitiateCall(ctx, "c1", "g1", "u1", 0)
	f.mgr.InitiateCall(ctx, "c2", "g2", "u2", 0)

	if res := f.mgr.InitiateCall(ctx, "c1", "g1", "u3", 0); res.Success || res.Code != CodeChannelAlreadyInCall {
		t.Fatalf("in-call initiate = %+v", res)
	}

	f.mgr.InitiateCall(ctx, "c3", "g3", "u4", 0)
	if res := f.mgr.InitiateCall(ctx, "c3", "g3", "u4", 0); res.Success || res.Code != CodeChannelAlreadyInQueue {
		t.Fatalf("queued initiate = %+v", res)
	}

	if res := f.mgr.InitiateCall(ctx, "", "g1", "u1", 0); res.Code != CodeInvalidChannel {
		t.Fatalf("empty channel = %+v", res)
	}
}

func TestInitiateWebhookFailure(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture()
	f.gw.hookErr = errors.New("missing permissions")

	res := f.mgr.InitiateCall(ctx, "c1", "g1", "u1", 0)
	if res.Success || res.Code != CodeWebhookCreationFailed {
		t.Fatalf("result = %+v", res)
	}
	if f.queue.InQueue("c1") {
		t.Fatal("channel queued despite webhook failure")
	}
}

// failCreateRepo fails call creation until cleared, to exercise the
// aborted-match rollback.
type failCreateRepo struct {
	*MemoryRepo
	createErr error
}

func (r *failCreateRepo) CreateCall(ctx context.Context, call *ActiveCall) error {
	if r.createErr != nil {
		return r.createErr
	}
	return r.MemoryRepo.CreateCall(ctx, call)
}

func TestInitiateQueuedAfterAbortedFastPath(t *testing.T) {
	ctx := context.Background()
	q := NewQueue()
	cache := NewMemoryCache()
	repo := &failCreateRepo{MemoryRepo: NewMemoryRepo(), createErr: errors.New("db down")}
	gw := newFakeGateway()
	notifier := &recNotifier{}
	engine := NewEngine(q, cache, repo, notifier, nil, time.Second, testLogger())
	mgr := NewManager(q, engine, cache, repo, notifier, gw, nil, 5*time.Minute, testLogger())

	mgr.InitiateCall(ctx, "c1", "g1", "u1", 0)

	// The fast-path match aborts on call creation and rolls both requests
	// back into the queue. The initiator ended up queued, so the result
	// must say so rather than report an already-queued conflict.
	res := mgr.InitiateCall(ctx, "c2", "g2", "u2", 0)
	if !res.Success || res.Matched {
		t.Fatalf("aborted fast path = %+v", res)
	}
	if res.Queue == nil || res.Queue.Position == 0 {
		t.Fatalf("queue status = %+v", res.Queue)
	}
	if !q.InQueue("c1") || !q.InQueue("c2") {
		t.Fatal("rollback left the queue inconsistent")
	}

	// Storage recovers: the next sweep pairs them.
	repo.createErr = nil
	engine.Sweep(ctx)
	if call, _ := mgr.GetActiveCall(ctx, "c2"); call == nil {
		t.Fatal("pair not matched after recovery")
	}
}

func TestRelayMessage(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture()

	f.mgr.InitiateCall(ctx, "c1", "g1", "u1", 0)
	matched := f.mgr.InitiateCall(ctx, "c2", "g2", "u2", 0)

	res := f.mgr.RelayMessage(ctx, InboundMessage{
		ChannelID:      "c1",
		AuthorID:       "u9",
		AuthorUsername: "niko",
		Content:        "hello over there",
	})
	if !res.Success || res.CallID != matched.CallID {
		t.Fatalf("relay = %+v", res)
	}

	// Delivered to the partner's webhook with the author's identity.
	delivered := f.gw.sentTo("https://discord.com/api/webhooks/1/hook-c2")
	if len(delivered) != 1 || delivered[0].Content != "hello over there" || delivered[0].Username != "niko" {
		t.Fatalf("delivered = %+v", delivered)
	}

	// Persisted and the speaking author joined the participant set.
	stored, err := f.repo.GetCall(ctx, matched.CallID)
	if err != nil || len(stored.Messages) != 1 {
		t.Fatalf("stored = %+v, %v", stored, err)
	}
	if !stored.Participants[0].Users.Has("u9") && !stored.Participants[1].Users.Has("u9") {
		t.Fatal("author not merged into participant users")
	}

	// Cached copy tracks the message count.
	cached, _ := f.cache.GetActiveCall(ctx, "c1")
	if cached == nil || len(cached.Messages) != 1 {
		t.Fatalf("cached = %+v", cached)
	}
}

func TestRelayToGoneWebhookEndsCall(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture()

	f.mgr.InitiateCall(ctx, "c1", "g1", "u1", 0)
	matched := f.mgr.InitiateCall(ctx, "c2", "g2", "u2", 0)
	f.gw.markGone("https://discord.com/api/webhooks/1/hook-c2")

	res := f.mgr.RelayMessage(ctx, InboundMessage{ChannelID: "c1", AuthorID: "u1", AuthorUsername: "a", Content: "x"})
	if res.Success {
		t.Fatalf("relay to gone webhook succeeded: %+v", res)
	}

	if call, _ := f.mgr.GetActiveCall(ctx, "c1"); call != nil {
		t.Fatal("call survived a gone partner webhook")
	}
	stored, err := f.repo.GetCall(ctx, matched.CallID)
	if err != nil || stored.Status != CallStatusEnded {
		t.Fatalf("stored = %+v, %v", stored, err)
	}
	if len(f.notifier.connErrs) != 1 {
		t.Fatalf("connection-error notifications = %d", len(f.notifier.connErrs))
	}
	if len(f.notifier.ended) != 1 || f.notifier.ended[0] != "relay_failure" {
		t.Fatalf("ended reasons = %v", f.notifier.ended)
	}
}

func TestHangup(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture()

	// Queued channel: hangup cancels the request.
	f.mgr.InitiateCall(ctx, "c1", "g1", "u1", 0)
	if res := f.mgr.HangupCall(ctx, "c1"); !res.Success {
		t.Fatalf("queued hangup = %+v", res)
	}
	if f.queue.InQueue("c1") {
		t.Fatal("request survived hangup")
	}

	// Idle channel: nothing to hang up.
	if res := f.mgr.HangupCall(ctx, "c1"); res.Success || res.Code != CodeCallNotFound {
		t.Fatalf("idle hangup = %+v", res)
	}

	// Ongoing call: both sides released.
	f.mgr.InitiateCall(ctx, "c1", "g1", "u1", 0)
	matched := f.mgr.InitiateCall(ctx, "c2", "g2", "u2", 0)
	if res := f.mgr.HangupCall(ctx, "c2"); !res.Success || res.CallID != matched.CallID {
		t.Fatalf("ongoing hangup = %+v", res)
	}
	for _, ch := range []string{"c1", "c2"} {
		if call, _ := f.mgr.GetActiveCall(ctx, ch); call != nil {
			t.Fatalf("channel %s still in a call", ch)
		}
	}
	if len(f.notifier.ended) != 1 || f.notifier.ended[0] != "hangup" {
		t.Fatalf("ended reasons = %v", f.notifier.ended)
	}
}

func TestSkipRequeues(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture()

	if res := f.mgr.SkipCall(ctx, "c1", "u1"); res.Success || res.Code != CodeCallNotFound {
		t.Fatalf("idle skip = %+v", res)
	}

	f.mgr.InitiateCall(ctx, "c1", "g1", "u1", 0)
	f.mgr.InitiateCall(ctx, "c2", "g2", "u2", 0)

	res := f.mgr.SkipCall(ctx, "c1", "u1")
	if !res.Success {
		t.Fatalf("skip = %+v", res)
	}
	// Old call gone, skipping channel queued again, partner released.
	if !f.queue.InQueue("c1") {
		t.Fatal("skipping channel not requeued")
	}
	if call, _ := f.mgr.GetActiveCall(ctx, "c2"); call != nil {
		t.Fatal("partner still in a call after skip")
	}
	if len(f.notifier.ended) != 1 || f.notifier.ended[0] != "skip" {
		t.Fatalf("ended reasons = %v", f.notifier.ended)
	}

	// The old partner cannot be paired straight back inside the
	// exclusion window.
	again := f.mgr.InitiateCall(ctx, "c2", "g2", "u2", 0)
	if again.Matched {
		t.Fatalf("re-paired with previous partner: %+v", again)
	}
	if again.Queue == nil {
		t.Fatalf("partner not queued: %+v", again)
	}
}

func TestResolveCallRepopulatesCache(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture()

	f.mgr.InitiateCall(ctx, "c1", "g1", "u1", 0)
	matched := f.mgr.InitiateCall(ctx, "c2", "g2", "u2", 0)

	// Cache wiped (restart, eviction): the repository backfills it.
	f.cache.RemoveActiveCall(ctx, "c1")
	call, err := f.mgr.GetActiveCall(ctx, "c1")
	if err != nil || call == nil || call.ID != matched.CallID {
		t.Fatalf("fallback lookup = %+v, %v", call, err)
	}
	if cached, _ := f.cache.GetActiveCall(ctx, "c2"); cached == nil {
		t.Fatal("cache not repopulated from repository")
	}
}

func TestParticipantJoinLeave(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture()

	f.mgr.InitiateCall(ctx, "c1", "g1", "u1", 0)
	f.mgr.InitiateCall(ctx, "c2", "g2", "u2", 0)

	if res := f.mgr.AddParticipant(ctx, "c1", "u7"); !res.Success {
		t.Fatalf("add = %+v", res)
	}
	// Second add of the same user is a silent success, no re-announce.
	f.mgr.AddParticipant(ctx, "c1", "u7")
	if len(f.notifier.joined) != 1 {
		t.Fatalf("join notifications = %v", f.notifier.joined)
	}

	call, _ := f.mgr.GetActiveCall(ctx, "c1")
	if !call.Participant("c1").Users.Has("u7") {
		t.Fatal("joined user missing from participant set")
	}

	// Leaving announces but keeps the user in history.
	f.mgr.RemoveParticipant(ctx, "c1", "u7")
	if len(f.notifier.left) != 1 {
		t.Fatalf("leave notifications = %v", f.notifier.left)
	}
	call, _ = f.mgr.GetActiveCall(ctx, "c1")
	if !call.Participant("c1").Users.Has("u7") {
		t.Fatal("participant set pruned on leave")
	}
}
