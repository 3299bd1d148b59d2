package userphone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Key layout. Everything lives under userphone: so an operator can inspect
// or flush the subsystem without touching broadcast state.
const (
	keyWebhook     = "userphone:webhook:"  // + channel id → url
	keyChannelCall = "userphone:chan:"     // + channel id → call id
	keyCallPayload = "userphone:call:"     // + call id → serialized call
	keyRecentMatch = "userphone:recent:"   // + userA:userB → "1"
)

// RedisCache implements CacheManager on a shared redis instance, making the
// busy checks and recent-match markers safe across clusters.
type RedisCache struct {
	rdb  *redis.Client
	ttls CacheTTLs
	log  *slog.Logger
}

func NewRedisCache(rdb *redis.Client, ttls CacheTTLs, log *slog.Logger) *RedisCache {
	return &RedisCache{rdb: rdb, ttls: ttls, log: log}
}

func (c *RedisCache) CacheWebhook(ctx context.Context, channelID, url string) error {
	if channelID == "" || url == "" {
		return ErrInvalidArgument
	}
	return c.rdb.Set(ctx, keyWebhook+channelID, url, c.ttls.Webhook).Err()
}

func (c *RedisCache) GetWebhook(ctx context.Context, channelID string) (string, error) {
	v, err := c.rdb.Get(ctx, keyWebhook+channelID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

func (c *RedisCache) CacheActiveCall(ctx context.Context, call *ActiveCall) error {
	if call == nil || call.ID == "" || len(call.Participants) == 0 {
		return ErrInvalidArgument
	}
	payload, err := EncodeCall(call)
	if err != nil {
		return fmt.Errorf("encode call: %w", err)
	}

	// Single pipelined transaction: the payload and every participant's
	// index land together or not at all.
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, keyCallPayload+call.ID, payload, c.ttls.Call)
		for _, p := range call.Participants {
			pipe.Set(ctx, keyChannelCall+p.ChannelID, call.ID, c.ttls.Call)
		}
		return nil
	})
	return err
}

func (c *RedisCache) GetActiveCall(ctx context.Context, channelID string) (*ActiveCall, error) {
	callID, err := c.rdb.Get(ctx, keyChannelCall+channelID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	payload, err := c.rdb.Get(ctx, keyCallPayload+callID).Result()
	if errors.Is(err, redis.Nil) {
		// Orphan index entry: the payload expired or a crash interrupted
		// removal. Drop the entry so the next lookup is a clean miss.
		if delErr := c.rdb.Del(ctx, keyChannelCall+channelID).Err(); delErr != nil {
			c.log.Warn("orphan call index cleanup failed", "channel_id", channelID, "err", delErr)
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return DecodeCall(payload)
}

func (c *RedisCache) RemoveActiveCall(ctx context.Context, channelID string) error {
	call, err := c.GetActiveCall(ctx, channelID)
	if err != nil {
		return err
	}
	if call == nil {
		return nil
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keyCallPayload+call.ID)
		for _, p := range call.Participants {
			pipe.Del(ctx, keyChannelCall+p.ChannelID)
		}
		return nil
	})
	return err
}

func (c *RedisCache) RefreshActiveCall(ctx context.Context, call *ActiveCall) error {
	// Rewriting the payload both persists accumulated messages/users and
	// resets the TTLs in one step.
	return c.CacheActiveCall(ctx, call)
}

func (c *RedisCache) RecordRecentMatch(ctx context.Context, userA, userB string) error {
	if userA == "" || userB == "" {
		return ErrInvalidArgument
	}
	a, b := recentMatchKeyPair(userA, userB)
	return c.rdb.Set(ctx, keyRecentMatch+a+":"+b, "1", c.ttls.RecentMatch).Err()
}

func (c *RedisCache) HasRecentMatch(ctx context.Context, userA, userB string) (bool, error) {
	a, b := recentMatchKeyPair(userA, userB)
	n, err := c.rdb.Exists(ctx, keyRecentMatch+a+":"+b).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
