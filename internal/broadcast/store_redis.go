package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"interchat/pkg/utils"
)

// Key layout. Everything lives under broadcast: parallel to the userphone:
// namespace.
const (
	keyMapping   = "broadcast:map:"      // + origin message id → serialized mapping
	keyReverse   = "broadcast:origin:"   // + copy message id → origin message id
	keyReactions = "broadcast:react:"    // + origin message id → serialized reaction map
	keyCooldown  = "broadcast:cooldown:" // + origin:user → window counter
)

// RedisMappings implements MappingStore. Mappings and reaction maps are
// hot propagation state only; they expire after MappingTTL, after which
// edits, deletes, and reactions on the original silently stop propagating.
type RedisMappings struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisMappings(rdb *redis.Client, ttl time.Duration) *RedisMappings {
	return &RedisMappings{rdb: rdb, ttl: ttl}
}

func (s *RedisMappings) SaveMapping(ctx context.Context, m *Mapping) error {
	if m == nil || m.OriginID == "" {
		return ErrInvalidArgument
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode mapping: %w", err)
	}

	// Payload and every reverse-index entry land together or not at all,
	// so a copy id never resolves to a mapping that is not there.
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, keyMapping+m.OriginID, payload, s.ttl)
		for _, c := range m.Copies {
			pipe.Set(ctx, keyReverse+c.MessageID, m.OriginID, s.ttl)
		}
		return nil
	})
	return err
}

func (s *RedisMappings) GetMapping(ctx context.Context, originID string) (*Mapping, error) {
	payload, err := s.rdb.Get(ctx, keyMapping+originID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m Mapping
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, fmt.Errorf("decode mapping: %w", err)
	}
	return &m, nil
}

func (s *RedisMappings) ResolveOrigin(ctx context.Context, copyMessageID string) (string, error) {
	v, err := s.rdb.Get(ctx, keyReverse+copyMessageID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

func (s *RedisMappings) DeleteMapping(ctx context.Context, originID string) error {
	m, err := s.GetMapping(ctx, originID)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keyMapping+originID, keyReactions+originID)
		if m != nil {
			for _, c := range m.Copies {
				pipe.Del(ctx, keyReverse+c.MessageID)
			}
		}
		return nil
	})
	return err
}

func (s *RedisMappings) SaveReactions(ctx context.Context, originID string, r ReactionMap) error {
	if originID == "" {
		return ErrInvalidArgument
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode reactions: %w", err)
	}
	return s.rdb.Set(ctx, keyReactions+originID, payload, s.ttl).Err()
}

func (s *RedisMappings) GetReactions(ctx context.Context, originID string) (ReactionMap, error) {
	payload, err := s.rdb.Get(ctx, keyReactions+originID).Result()
	if errors.Is(err, redis.Nil) {
		return make(ReactionMap), nil
	}
	if err != nil {
		return nil, err
	}
	r := make(ReactionMap)
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, fmt.Errorf("decode reactions: %w", err)
	}
	return r, nil
}

// RedisThrottle bounds reaction processing per (origin message, user) with
// a Lua window counter, safe across clusters.
type RedisThrottle struct {
	rdb    *redis.Client
	burst  int
	window time.Duration
}

func NewRedisThrottle(rdb *redis.Client, burst int, window time.Duration) *RedisThrottle {
	return &RedisThrottle{rdb: rdb, burst: burst, window: window}
}

func (t *RedisThrottle) Allow(ctx context.Context, originID, userID string) (bool, error) {
	return utils.AllowCooldown(ctx, t.rdb, keyCooldown+originID+":"+userID, t.burst, t.window)
}
