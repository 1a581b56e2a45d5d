// Package presence tracks which users currently hold a live connection.
// Connection state lives behind an injected Store so deployments can pick
// a backend: the in-process store here, or Redis when the service runs
// more than one replica.
package presence

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store is the key-value capability a presence backend must provide.
// Keys are user ids; values are opaque connection ids.
type Store interface {
	// Get returns the value for key, or ("", nil) when absent.
	Get(ctx context.Context, key string) (string, error)

	// Set writes key=value with the given TTL (0 = no expiration).
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every present key.
	List(ctx context.Context) ([]string, error)
}

// Config holds tracker configuration.
type Config struct {
	// Store is the presence backend. Required.
	Store Store

	// TTL bounds how long an entry survives without a refresh, so a
	// crashed instance cannot leave users online forever.
	// Default: 5 minutes.
	TTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		TTL: 5 * time.Minute,
	}
}

// Tracker records user connect and disconnect transitions.
type Tracker struct {
	store Store
	ttl   time.Duration
}

// NewTracker creates a presence tracker.
func NewTracker(cfg Config) (*Tracker, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	return &Tracker{store: cfg.Store, ttl: cfg.TTL}, nil
}

// Connect marks userID online under connectionID, replacing any previous
// connection for the same user.
func (t *Tracker) Connect(ctx context.Context, userID, connectionID string) error {
	if userID == "" || connectionID == "" {
		return fmt.Errorf("user id and connection id are required")
	}
	if err := t.store.Set(ctx, userID, connectionID, t.ttl); err != nil {
		return fmt.Errorf("failed to record connection: %w", err)
	}
	return nil
}

// Heartbeat refreshes the TTL for an existing connection. A heartbeat
// from a stale connection id is ignored, the user reconnected elsewhere.
func (t *Tracker) Heartbeat(ctx context.Context, userID, connectionID string) error {
	current, err := t.store.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to read connection: %w", err)
	}
	if current != connectionID {
		return nil
	}
	if err := t.store.Set(ctx, userID, connectionID, t.ttl); err != nil {
		return fmt.Errorf("failed to refresh connection: %w", err)
	}
	return nil
}

// Disconnect marks userID offline, but only if connectionID still owns
// the entry. A disconnect from a superseded connection is a no-op.
func (t *Tracker) Disconnect(ctx context.Context, userID, connectionID string) error {
	current, err := t.store.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to read connection: %w", err)
	}
	if current == "" || current != connectionID {
		return nil
	}
	if err := t.store.Delete(ctx, userID); err != nil {
		return fmt.Errorf("failed to remove connection: %w", err)
	}
	return nil
}

// IsOnline reports whether userID has a live connection.
func (t *Tracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	current, err := t.store.Get(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to read connection: %w", err)
	}
	return current != "", nil
}

// Online returns the ids of every currently connected user.
func (t *Tracker) Online(ctx context.Context) ([]string, error) {
	keys, err := t.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	return keys, nil
}

// entry is a value with its expiration deadline.
type entry struct {
	value     string
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is an in-process Store for tests and single-instance
// deployments. Expired entries are dropped lazily on read.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemoryStore creates an in-memory presence store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get implements Store
func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || e.expired(s.now()) {
		return "", nil
	}
	return e.value, nil
}

// Set implements Store
func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = entry{value: value, expiresAt: expiresAt}
	s.mu.Unlock()
	return nil
}

// Delete implements Store
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// List implements Store
func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.entries))
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}
