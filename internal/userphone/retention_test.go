package userphone

import (
	"context"
	"testing"
	"time"
)

func seedEndedCall(t *testing.T, repo *MemoryRepo, id, chanA, chanB string, endedAt time.Time) {
	t.Helper()
	call := &ActiveCall{
		ID:        id,
		Status:    CallStatusOngoing,
		CreatedAt: endedAt.Add(-10 * time.Minute),
		Participants: []*CallParticipant{
			{ChannelID: chanA, GuildID: "g-" + chanA, Users: NewUserSet("u-" + chanA)},
			{ChannelID: chanB, GuildID: "g-" + chanB, Users: NewUserSet("u-" + chanB)},
		},
	}
	if err := repo.CreateCall(context.Background(), call); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
	if err := repo.EndCall(context.Background(), id, endedAt); err != nil {
		t.Fatalf("end %s: %v", id, err)
	}
}

func TestRetentionPurgesEndedPastGrace(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seedEndedCall(t, repo, "old", "c1", "c2", now.Add(-2*time.Hour))
	seedEndedCall(t, repo, "recent", "c3", "c4", now.Add(-time.Minute))
	seedEndedCall(t, repo, "pinned", "c5", "c6", now.Add(-2*time.Hour))
	if err := repo.SetFlagged(ctx, "pinned", true); err != nil {
		t.Fatalf("flag: %v", err)
	}

	c := NewCleaner(repo, 30*time.Minute, time.Minute, testLogger())
	c.clock = func() time.Time { return now }
	c.purgeOnce(ctx)

	if _, err := repo.GetCall(ctx, "old"); err != ErrNotFound {
		t.Fatalf("old call not purged: %v", err)
	}
	if _, err := repo.GetCall(ctx, "recent"); err != nil {
		t.Fatalf("call inside grace purged: %v", err)
	}
	if _, err := repo.GetCall(ctx, "pinned"); err != nil {
		t.Fatalf("flagged call purged: %v", err)
	}
}

func TestRetentionNeverTouchesOngoing(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	call := testCall("live")
	call.CreatedAt = now.Add(-24 * time.Hour)
	if err := repo.CreateCall(ctx, call); err != nil {
		t.Fatalf("create: %v", err)
	}

	c := NewCleaner(repo, 30*time.Minute, time.Minute, testLogger())
	c.clock = func() time.Time { return now }
	c.purgeOnce(ctx)

	if _, err := repo.GetCall(ctx, "live"); err != nil {
		t.Fatalf("ongoing call purged: %v", err)
	}
}
