package userphone

import (
	"context"
	"sync"
)

// MemoryCache is an in-memory CacheManager for tests and local development.
// It keeps the same channel→call-id→payload indirection as the redis
// implementation so index-consistency properties are exercised for real,
// but it does not expire anything.
type MemoryCache struct {
	mu       sync.Mutex
	webhooks map[string]string
	chanCall map[string]string
	payloads map[string]string // call id → serialized call
	recent   map[string]struct{}
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		webhooks: make(map[string]string),
		chanCall: make(map[string]string),
		payloads: make(map[string]string),
		recent:   make(map[string]struct{}),
	}
}

func (c *MemoryCache) CacheWebhook(ctx context.Context, channelID, url string) error {
	if channelID == "" || url == "" {
		return ErrInvalidArgument
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.webhooks[channelID] = url
	return nil
}

func (c *MemoryCache) GetWebhook(ctx context.Context, channelID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.webhooks[channelID], nil
}

func (c *MemoryCache) CacheActiveCall(ctx context.Context, call *ActiveCall) error {
	if call == nil || call.ID == "" || len(call.Participants) == 0 {
		return ErrInvalidArgument
	}
	payload, err := EncodeCall(call)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads[call.ID] = payload
	for _, p := range call.Participants {
		c.chanCall[p.ChannelID] = call.ID
	}
	return nil
}

func (c *MemoryCache) GetActiveCall(ctx context.Context, channelID string) (*ActiveCall, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	callID, ok := c.chanCall[channelID]
	if !ok {
		return nil, nil
	}
	payload, ok := c.payloads[callID]
	if !ok {
		delete(c.chanCall, channelID)
		return nil, nil
	}
	return DecodeCall(payload)
}

func (c *MemoryCache) RemoveActiveCall(ctx context.Context, channelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	callID, ok := c.chanCall[channelID]
	if !ok {
		return nil
	}
	payload, ok := c.payloads[callID]
	if !ok {
		delete(c.chanCall, channelID)
		return nil
	}
	call, err := DecodeCall(payload)
	if err != nil {
		return err
	}
	delete(c.payloads, callID)
	for _, p := range call.Participants {
		delete(c.chanCall, p.ChannelID)
	}
	return nil
}

func (c *MemoryCache) RefreshActiveCall(ctx context.Context, call *ActiveCall) error {
	return c.CacheActiveCall(ctx, call)
}

func (c *MemoryCache) RecordRecentMatch(ctx context.Context, userA, userB string) error {
	if userA == "" || userB == "" {
		return ErrInvalidArgument
	}
	a, b := recentMatchKeyPair(userA, userB)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recent[a+":"+b] = struct{}{}
	return nil
}

func (c *MemoryCache) HasRecentMatch(ctx context.Context, userA, userB string) (bool, error) {
	a, b := recentMatchKeyPair(userA, userB)
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.recent[a+":"+b]
	return ok, nil
}
