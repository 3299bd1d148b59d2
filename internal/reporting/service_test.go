package reporting

import (
	"context"
	"testing"
	"time"

	"interchat/internal/userphone"
)

func seedCall(t *testing.T, repo *userphone.MemoryRepo, id string, created time.Time, ended *time.Time, flagged bool, msgs int) {
	t.Helper()
	ctx := context.Background()
	call := &userphone.ActiveCall{
		ID:        id,
		Status:    userphone.CallStatusOngoing,
		CreatedAt: created,
		Participants: []*userphone.CallParticipant{
			{ChannelID: "c1-" + id, GuildID: "g1", Users: userphone.NewUserSet("u1-" + id)},
			{ChannelID: "c2-" + id, GuildID: "g2", Users: userphone.NewUserSet("u2-" + id)},
		},
	}
	if err := repo.CreateCall(ctx, call); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
	for i := 0; i < msgs; i++ {
		err := repo.AppendMessage(ctx, id, "c1-"+id, userphone.CallMessage{
			AuthorID:  "u1-" + id,
			Content:   "msg",
			Timestamp: created.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}
	if ended != nil {
		repo.EndCall(ctx, id, *ended)
	}
	if flagged {
		repo.SetFlagged(ctx, id, true)
	}
}

func TestCallsSummary(t *testing.T) {
	ctx := context.Background()
	repo := userphone.NewMemoryRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	endedAt := now.Add(-50 * time.Minute)
	seedCall(t, repo, "a", now.Add(-time.Hour), &endedAt, false, 3) // ran 10m
	seedCall(t, repo, "b", now.Add(-20*time.Minute), nil, true, 2)  // ongoing
	seedCall(t, repo, "old", now.Add(-48*time.Hour), nil, false, 9) // outside range

	svc := NewService(repo)
	svc.clock = func() time.Time { return now }

	sum, err := svc.CallsSummary(ctx, CallsSummaryRequest{
		Range: TimeRange{From: now.Add(-24 * time.Hour), To: now},
	})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}

	if sum.TotalCalls != 2 || sum.EndedCalls != 1 || sum.OngoingCalls != 1 {
		t.Fatalf("counts = %+v", sum)
	}
	if sum.FlaggedCalls != 1 {
		t.Fatalf("flagged = %d", sum.FlaggedCalls)
	}
	if sum.TotalMessages != 5 || sum.UniqueSpeakers != 2 {
		t.Fatalf("messages/speakers = %d/%d", sum.TotalMessages, sum.UniqueSpeakers)
	}
	// 10 minutes ended + 20 minutes ongoing.
	if sum.TotalDurationSeconds != 30*60 {
		t.Fatalf("total duration = %d", sum.TotalDurationSeconds)
	}
	if sum.AverageDurationSeconds != 15*60 {
		t.Fatalf("avg duration = %d", sum.AverageDurationSeconds)
	}
}

func TestCallsSummaryRejectsBadRange(t *testing.T) {
	svc := NewService(userphone.NewMemoryRepo())
	now := time.Now()

	_, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{
		Range: TimeRange{From: now, To: now.Add(-time.Hour)},
	})
	if err != ErrInvalidRequest {
		t.Fatalf("err = %v", err)
	}
}

func TestActivityRanksGuilds(t *testing.T) {
	ctx := context.Background()
	repo := userphone.NewMemoryRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seedCall(t, repo, "a", now.Add(-time.Hour), nil, false, 2)
	seedCall(t, repo, "b", now.Add(-30*time.Minute), nil, false, 1)

	svc := NewService(repo)
	svc.clock = func() time.Time { return now }

	report, err := svc.Activity(ctx, ActivityRequest{
		Range: TimeRange{From: now.Add(-24 * time.Hour), To: now},
	})
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	if len(report.Guilds) != 2 {
		t.Fatalf("guilds = %+v", report.Guilds)
	}
	// Both guilds participate in both calls; g1 hosts all senders.
	if report.Guilds[0].Calls != 2 || report.Guilds[1].Calls != 2 {
		t.Fatalf("call counts = %+v", report.Guilds)
	}
	var g1 GuildActivity
	for _, g := range report.Guilds {
		if g.GuildID == "g1" {
			g1 = g
		}
	}
	if g1.Messages != 3 {
		t.Fatalf("g1 messages = %d", g1.Messages)
	}
}
