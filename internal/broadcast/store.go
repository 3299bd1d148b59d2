package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrNotFound        = errors.New("broadcast: not found")
	ErrInvalidArgument = errors.New("broadcast: invalid argument")
)

// ConnectionStore is the durable record of hub memberships.
type ConnectionStore interface {
	// ConnectedByHub returns every connection currently participating in
	// the hub's fan-out.
	ConnectedByHub(ctx context.Context, hubID string) ([]Connection, error)

	// FindByChannel resolves a channel to its connection, any hub.
	// Returns ErrNotFound if the channel is not connected anywhere.
	FindByChannel(ctx context.Context, channelID string) (*Connection, error)

	// Upsert inserts or replaces the channel's connection record.
	Upsert(ctx context.Context, conn *Connection) error

	// SetConnected flips the fan-out gate for a channel's connection.
	SetConnected(ctx context.Context, channelID string, connected bool) error

	// TouchActive bumps the connection's last-activity timestamp.
	TouchActive(ctx context.Context, channelID string) error
}

// MappingStore holds the hot propagation state: broadcast sets and reaction
// maps, both TTL-bound.
type MappingStore interface {
	// SaveMapping stores the broadcast set for an original message and
	// indexes every copy back to it.
	SaveMapping(ctx context.Context, m *Mapping) error

	// GetMapping loads the broadcast set by original message id.
	// Returns nil on a miss.
	GetMapping(ctx context.Context, originID string) (*Mapping, error)

	// ResolveOrigin maps any copy's message id back to the original's.
	// Returns "" on a miss.
	ResolveOrigin(ctx context.Context, copyMessageID string) (string, error)

	// DeleteMapping removes the broadcast set and its reverse index.
	DeleteMapping(ctx context.Context, originID string) error

	// SaveReactions / GetReactions persist the reaction map alongside the
	// mapping. GetReactions returns an empty, usable map on a miss.
	SaveReactions(ctx context.Context, originID string, r ReactionMap) error
	GetReactions(ctx context.Context, originID string) (ReactionMap, error)
}

// Throttle bounds reaction processing per user per original message.
type Throttle interface {
	// Allow reports whether the (user, origin) pair may proceed now.
	Allow(ctx context.Context, originID, userID string) (bool, error)
}

// MemoryConnections is an in-memory ConnectionStore for tests.
type MemoryConnections struct {
	mu    sync.Mutex
	conns map[string]*Connection // by channel id
	clock func() time.Time
}

func NewMemoryConnections() *MemoryConnections {
	return &MemoryConnections{conns: make(map[string]*Connection), clock: time.Now}
}

func (s *MemoryConnections) ConnectedByHub(ctx context.Context, hubID string) ([]Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Connection
	for _, c := range s.conns {
		if c.HubID == hubID && c.Connected {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *MemoryConnections) FindByChannel(ctx context.Context, channelID string) (*Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[channelID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryConnections) Upsert(ctx context.Context, conn *Connection) error {
	if conn == nil || conn.ChannelID == "" || conn.HubID == "" {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *conn
	s.conns[conn.ChannelID] = &cp
	return nil
}

func (s *MemoryConnections) SetConnected(ctx context.Context, channelID string, connected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[channelID]
	if !ok {
		return ErrNotFound
	}
	c.Connected = connected
	return nil
}

func (s *MemoryConnections) TouchActive(ctx context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conns[channelID]; ok {
		c.LastActive = s.clock()
	}
	return nil
}

// MemoryMappings is an in-memory MappingStore for tests. No expiry.
type MemoryMappings struct {
	mu        sync.Mutex
	mappings  map[string]*Mapping
	reverse   map[string]string // copy message id → origin id
	reactions map[string]ReactionMap
}

func NewMemoryMappings() *MemoryMappings {
	return &MemoryMappings{
		mappings:  make(map[string]*Mapping),
		reverse:   make(map[string]string),
		reactions: make(map[string]ReactionMap),
	}
}

func (s *MemoryMappings) SaveMapping(ctx context.Context, m *Mapping) error {
	if m == nil || m.OriginID == "" {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	cp.Copies = append([]Copy(nil), m.Copies...)
	s.mappings[m.OriginID] = &cp
	for _, c := range m.Copies {
		s.reverse[c.MessageID] = m.OriginID
	}
	return nil
}

func (s *MemoryMappings) GetMapping(ctx context.Context, originID string) (*Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mappings[originID]
	if !ok {
		return nil, nil
	}
	cp := *m
	cp.Copies = append([]Copy(nil), m.Copies...)
	return &cp, nil
}

func (s *MemoryMappings) ResolveOrigin(ctx context.Context, copyMessageID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reverse[copyMessageID], nil
}

func (s *MemoryMappings) DeleteMapping(ctx context.Context, originID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mappings[originID]
	if ok {
		for _, c := range m.Copies {
			delete(s.reverse, c.MessageID)
		}
	}
	delete(s.mappings, originID)
	delete(s.reactions, originID)
	return nil
}

func (s *MemoryMappings) SaveReactions(ctx context.Context, originID string, r ReactionMap) error {
	if originID == "" {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(ReactionMap, len(r))
	for emoji, users := range r {
		cp[emoji] = append([]string(nil), users...)
	}
	s.reactions[originID] = cp
	return nil
}

func (s *MemoryMappings) GetReactions(ctx context.Context, originID string) (ReactionMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.reactions[originID]
	if !ok {
		return make(ReactionMap), nil
	}
	cp := make(ReactionMap, len(stored))
	for emoji, users := range stored {
		cp[emoji] = append([]string(nil), users...)
	}
	return cp, nil
}

// openThrottle allows everything; used in tests and when redis is absent.
type openThrottle struct{}

func (openThrottle) Allow(ctx context.Context, originID, userID string) (bool, error) {
	return true, nil
}

// NewOpenThrottle returns a Throttle that never throttles.
func NewOpenThrottle() Throttle { return openThrottle{} }
