package userphone

import (
	"context"
	"testing"
	"time"
)

func testCall(id string) *ActiveCall {
	return &ActiveCall{
		ID:        id,
		Status:    CallStatusOngoing,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Participants: []*CallParticipant{
			{ChannelID: "c1", GuildID: "g1", WebhookURL: "https://discord.com/api/webhooks/1/a", Users: NewUserSet("u1")},
			{ChannelID: "c2", GuildID: "g2", WebhookURL: "https://discord.com/api/webhooks/2/b", Users: NewUserSet("u2")},
		},
	}
}

func TestCacheActiveCallBothChannelsResolve(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	if err := c.CacheActiveCall(ctx, testCall("call-1")); err != nil {
		t.Fatalf("cache: %v", err)
	}

	for _, ch := range []string{"c1", "c2"} {
		got, err := c.GetActiveCall(ctx, ch)
		if err != nil {
			t.Fatalf("get via %s: %v", ch, err)
		}
		if got == nil || got.ID != "call-1" {
			t.Fatalf("get via %s = %+v", ch, got)
		}
	}

	if got, _ := c.GetActiveCall(ctx, "c3"); got != nil {
		t.Fatalf("unrelated channel resolved a call: %+v", got)
	}
}

func TestCacheRemoveActiveCallClearsAllIndexes(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	c.CacheActiveCall(ctx, testCall("call-1"))

	// Removal via one side must clear the other side's index too.
	if err := c.RemoveActiveCall(ctx, "c2"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	for _, ch := range []string{"c1", "c2"} {
		if got, _ := c.GetActiveCall(ctx, ch); got != nil {
			t.Fatalf("channel %s still resolves after removal", ch)
		}
	}

	// Removing an idle channel is a no-op, not an error.
	if err := c.RemoveActiveCall(ctx, "c1"); err != nil {
		t.Fatalf("idempotent remove: %v", err)
	}
}

func TestCacheOrphanIndexSelfHeals(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	c.CacheActiveCall(ctx, testCall("call-1"))

	// Simulate payload expiry with the index entries left behind.
	c.mu.Lock()
	delete(c.payloads, "call-1")
	c.mu.Unlock()

	if got, err := c.GetActiveCall(ctx, "c1"); err != nil || got != nil {
		t.Fatalf("orphan lookup = %+v, %v; want miss", got, err)
	}
	c.mu.Lock()
	_, indexed := c.chanCall["c1"]
	c.mu.Unlock()
	if indexed {
		t.Fatal("orphan index entry not dropped on lookup")
	}
}

func TestCacheWebhook(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	if url, _ := c.GetWebhook(ctx, "c1"); url != "" {
		t.Fatalf("miss should return empty, got %q", url)
	}
	if err := c.CacheWebhook(ctx, "c1", "https://discord.com/api/webhooks/1/a"); err != nil {
		t.Fatalf("cache webhook: %v", err)
	}
	url, err := c.GetWebhook(ctx, "c1")
	if err != nil || url != "https://discord.com/api/webhooks/1/a" {
		t.Fatalf("get webhook = %q, %v", url, err)
	}
	if err := c.CacheWebhook(ctx, "", "x"); err != ErrInvalidArgument {
		t.Fatalf("empty channel err = %v", err)
	}
}

func TestCacheRecentMatchSymmetric(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	if err := c.RecordRecentMatch(ctx, "u2", "u1"); err != nil {
		t.Fatalf("record: %v", err)
	}
	for _, pair := range [][2]string{{"u1", "u2"}, {"u2", "u1"}} {
		ok, err := c.HasRecentMatch(ctx, pair[0], pair[1])
		if err != nil || !ok {
			t.Fatalf("HasRecentMatch(%s, %s) = %v, %v", pair[0], pair[1], ok, err)
		}
	}
	if ok, _ := c.HasRecentMatch(ctx, "u1", "u3"); ok {
		t.Fatal("unrelated pair reported as recent")
	}
}
