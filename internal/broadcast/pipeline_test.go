package broadcast

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"interchat/internal/gateway"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGateway records webhook operations per URL and can simulate gone
// endpoints.
type fakeGateway struct {
	mu      sync.Mutex
	sent    map[string][]gateway.Payload
	edits   map[string][]gateway.Payload // key: messageID
	deletes []string                     // messageIDs
	gone    map[string]bool
	seq     int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		sent:  make(map[string][]gateway.Payload),
		edits: make(map[string][]gateway.Payload),
		gone:  make(map[string]bool),
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
	return &gateway.Message{ID: fmt.Sprintf("%s-m%d", webhookURL[len(webhookURL)-2:], g.seq), Timestamp: time.Now()}, nil
}

func (g *fakeGateway) EditMessage(ctx context.Context, webhookURL, messageID string, p gateway.Payload) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gone[webhookURL] {
		return gateway.ErrWebhookGone
	}
	g.edits[messageID] = append(g.edits[messageID], p)
	return nil
}

func (g *fakeGateway) DeleteMessage(ctx context.Context, webhookURL, messageID, threadID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deletes = append(g.deletes, messageID)
	return nil
}

func (g *fakeGateway) FetchMessage(ctx context.Context, webhookURL, messageID string) (*gateway.Message, error) {
	return nil, gateway.ErrWebhookGone
}

func (g *fakeGateway) CreateChannelWebhook(ctx context.Context, channelID, name string) (string, error) {
	return "https://discord.com/api/webhooks/1/hook-" + channelID, nil
}

func (g *fakeGateway) sentTo(webhookURL string) []gateway.Payload {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sent[webhookURL]
}

// fakeAudit always resolves the same moderator.
type fakeAudit struct {
	actor string
}

func (a *fakeAudit) RecentDeleter(ctx context.Context, guildID, channelID, authorID string, window time.Duration) (string, bool) {
	if a.actor == "" {
		return "", false
	}
	return a.actor, true
}

// recDeletions records modlog calls.
type recDeletions struct {
	mu      sync.Mutex
	entries []string // "hub/message/actor/author"
}

func (d *recDeletions) RecordDeletion(ctx context.Context, hubID, messageID, actorID, authorID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, hubID+"/"+messageID+"/"+actorID+"/"+authorID)
}

func hookURL(channel string) string {
	return "https://discord.com/api/webhooks/1/" + channel
}

func seedHub(t *testing.T, conns ConnectionStore, hubID string, channels ...string) {
	t.Helper()
	for i, ch := range channels {
		err := conns.Upsert(context.Background(), &Connection{
			ID:         fmt.Sprintf("conn-%d", i),
			HubID:      hubID,
			ChannelID:  ch,
			GuildID:    "guild-" + ch,
			WebhookURL: hookURL(ch),
			Connected:  true,
		})
		if err != nil {
			t.Fatalf("seed %s: %v", ch, err)
		}
	}
}

func testMessage(originChannel string) OutboundMessage {
	return OutboundMessage{
		HubID:          "hub-1",
		OriginID:       "orig-1",
		OriginChannel:  originChannel,
		AuthorID:       "author-1",
		AuthorUsername: "alice",
		Content:        "hello hub",
	}
}

func TestSendToHubFanOut(t *testing.T) {
	ctx := context.Background()
	conns := NewMemoryConnections()
	maps := NewMemoryMappings()
	gw := newFakeGateway()
	seedHub(t, conns, "hub-1", "c0", "c1", "c2", "c3")

	p := NewPipeline(conns, maps, gw, nil, nil, testLogger())
	m, err := p.SendToHub(ctx, testMessage("c0"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// Origin excluded, every other connected channel delivered.
	if len(m.Copies) != 3 {
		t.Fatalf("copies = %d, want 3", len(m.Copies))
	}
	if got := gw.sentTo(hookURL("c0")); len(got) != 0 {
		t.Fatalf("origin received its own broadcast: %+v", got)
	}
	for _, ch := range []string{"c1", "c2", "c3"} {
		got := gw.sentTo(hookURL(ch))
		if len(got) != 1 || got[0].Content != "hello hub" || got[0].Username != "alice" {
			t.Fatalf("delivery to %s = %+v", ch, got)
		}
	}

	// Mapping persisted and each copy resolves back to the original.
	stored, err := maps.GetMapping(ctx, "orig-1")
	if err != nil || stored == nil || len(stored.Copies) != 3 {
		t.Fatalf("stored mapping = %+v, %v", stored, err)
	}
	origin, _ := maps.ResolveOrigin(ctx, stored.Copies[0].MessageID)
	if origin != "orig-1" {
		t.Fatalf("reverse lookup = %q", origin)
	}
}

func TestSendToHubGoneWebhookDeactivates(t *testing.T) {
	ctx := context.Background()
	conns := NewMemoryConnections()
	maps := NewMemoryMappings()
	gw := newFakeGateway()
	seedHub(t, conns, "hub-1", "c0", "c1", "c2")
	gw.gone[hookURL("c1")] = true

	p := NewPipeline(conns, maps, gw, nil, nil, testLogger())
	m, err := p.SendToHub(ctx, testMessage("c0"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// The healthy recipient still got the message.
	if len(m.Copies) != 1 || m.Copies[0].ChannelID != "c2" {
		t.Fatalf("copies = %+v", m.Copies)
	}
	// The dead one is out of future fan-outs.
	conn, err := conns.FindByChannel(ctx, "c1")
	if err != nil || conn.Connected {
		t.Fatalf("gone connection = %+v, %v", conn, err)
	}

	// Next broadcast skips it without error.
	msg := testMessage("c0")
	msg.OriginID = "orig-2"
	m2, err := p.SendToHub(ctx, msg)
	if err != nil || len(m2.Copies) != 1 {
		t.Fatalf("second send = %+v, %v", m2, err)
	}
}

func TestEditPropagation(t *testing.T) {
	ctx := context.Background()
	conns := NewMemoryConnections()
	maps := NewMemoryMappings()
	gw := newFakeGateway()
	seedHub(t, conns, "hub-1", "c0", "c1", "c2")

	p := NewPipeline(conns, maps, gw, nil, nil, testLogger())
	m, _ := p.SendToHub(ctx, testMessage("c0"))

	// Edit observed on one copy propagates to the other, not back to
	// itself.
	edited := m.Copies[0]
	if err := p.EditMessage(ctx, edited.MessageID, "hello, edited"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if got := gw.edits[edited.MessageID]; len(got) != 0 {
		t.Fatalf("edit echoed back to its own copy: %+v", got)
	}
	other := m.Copies[1]
	got := gw.edits[other.MessageID]
	if len(got) != 1 || got[0].Content != "hello, edited" {
		t.Fatalf("edit on sibling copy = %+v", got)
	}

	// Unknown message ids are a silent no-op.
	if err := p.EditMessage(ctx, "not-a-broadcast", "x"); err != nil {
		t.Fatalf("unknown edit: %v", err)
	}
}

func TestDeletePropagationRecordsModerator(t *testing.T) {
	ctx := context.Background()
	conns := NewMemoryConnections()
	maps := NewMemoryMappings()
	gw := newFakeGateway()
	dellog := &recDeletions{}
	audit := &fakeAudit{actor: "mod-9"}
	seedHub(t, conns, "hub-1", "c0", "c1", "c2")

	p := NewPipeline(conns, maps, gw, audit, dellog, testLogger())
	m, _ := p.SendToHub(ctx, testMessage("c0"))

	observed := m.Copies[0]
	if err := p.DeleteMessage(ctx, observed.ChannelID, observed.MessageID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// Sibling copy deleted, observed one untouched (already gone).
	if len(gw.deletes) != 1 || gw.deletes[0] == observed.MessageID {
		t.Fatalf("deletes = %v", gw.deletes)
	}
	// Moderator resolved via the audit heuristic.
	want := "hub-1/" + observed.MessageID + "/mod-9/author-1"
	if len(dellog.entries) != 1 || dellog.entries[0] != want {
		t.Fatalf("modlog = %v, want %s", dellog.entries, want)
	}
	// Mapping is gone afterwards.
	if stored, _ := maps.GetMapping(ctx, "orig-1"); stored != nil {
		t.Fatalf("mapping survived deletion: %+v", stored)
	}
}

func TestDeleteFallsBackToAuthor(t *testing.T) {
	ctx := context.Background()
	conns := NewMemoryConnections()
	maps := NewMemoryMappings()
	gw := newFakeGateway()
	dellog := &recDeletions{}
	seedHub(t, conns, "hub-1", "c0", "c1")

	// No audit entry found: the author is assumed to have self-deleted.
	p := NewPipeline(conns, maps, gw, &fakeAudit{}, dellog, testLogger())
	m, _ := p.SendToHub(ctx, testMessage("c0"))

	target := m.Copies[0]
	p.DeleteMessage(ctx, target.ChannelID, target.MessageID)

	want := "hub-1/" + target.MessageID + "/author-1/author-1"
	if len(dellog.entries) != 1 || dellog.entries[0] != want {
		t.Fatalf("modlog = %v, want %s", dellog.entries, want)
	}
}

func TestConnectDisconnect(t *testing.T) {
	ctx := context.Background()
	conns := NewMemoryConnections()
	p := NewPipeline(conns, NewMemoryMappings(), newFakeGateway(), nil, nil, testLogger())

	conn, err := p.Connect(ctx, "hub-1", "c1", "g1", hookURL("c1"), "")
	if err != nil || !conn.Connected || conn.ID == "" {
		t.Fatalf("connect = %+v, %v", conn, err)
	}

	if err := p.Disconnect(ctx, "c1"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	got, _ := conns.FindByChannel(ctx, "c1")
	if got.Connected {
		t.Fatal("connection still gated in after disconnect")
	}

	if err := p.Disconnect(ctx, "never-connected"); err != ErrNotFound {
		t.Fatalf("disconnect unknown = %v", err)
	}
}
