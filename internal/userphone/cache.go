package userphone

import (
	"context"
	"strings"
	"time"
)

// CacheManager is the hot-path store for live routing decisions.
//
// Rules:
// - The cache is authoritative for "is this channel busy" checks; the
//   repository is consulted only on a miss, and the cache repopulated.
// - Active-call lookups go channel id → call id → payload, so the payload
//   is stored once regardless of participant count.
// - Multi-key writes for one call must be atomic: no participant's index
//   may point at a call id whose payload or sibling index is missing.
type CacheManager interface {
	// CacheWebhook / GetWebhook manage the long-lived webhook URL cache.
	// GetWebhook returns "" on a miss.
	CacheWebhook(ctx context.Context, channelID, url string) error
	GetWebhook(ctx context.Context, channelID string) (string, error)

	// CacheActiveCall writes the payload and the channel index for every
	// participant in one atomic step.
	CacheActiveCall(ctx context.Context, call *ActiveCall) error

	// GetActiveCall resolves any participant channel id to the call.
	// Returns nil on a miss. An index entry whose payload is gone is
	// treated as a miss and the orphan entry dropped (self-heal).
	GetActiveCall(ctx context.Context, channelID string) (*ActiveCall, error)

	// RemoveActiveCall looks up the call via any participant channel and
	// removes the payload plus every participant's index entry.
	RemoveActiveCall(ctx context.Context, channelID string) error

	// RefreshActiveCall extends the payload/index TTLs on activity.
	RefreshActiveCall(ctx context.Context, call *ActiveCall) error

	// RecordRecentMatch / HasRecentMatch manage the re-pairing exclusion
	// window between two users. Order of the ids does not matter.
	RecordRecentMatch(ctx context.Context, userA, userB string) error
	HasRecentMatch(ctx context.Context, userA, userB string) (bool, error)
}

// CacheTTLs bounds each key family. Zero values get defaults from config.
type CacheTTLs struct {
	Webhook     time.Duration // long-lived, ≈24h
	Call        time.Duration // medium-lived, ≈1h, refreshed on activity
	RecentMatch time.Duration // long-lived, ≈24h
}

// recentMatchKeyPair canonicalizes the user pair so (a,b) and (b,a) hit
// the same marker.
func recentMatchKeyPair(userA, userB string) (string, string) {
	if strings.Compare(userA, userB) > 0 {
		return userB, userA
	}
	return userA, userB
}
