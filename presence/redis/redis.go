// Package redis provides a Redis implementation of the presence.Store
// interface, suitable for multi-instance deployments where connection
// state must be shared across replicas.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis presence store configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "presence:")
	KeyPrefix string

	// ScanCount is the COUNT hint passed to SCAN when listing keys
	// (default: 100)
	ScanCount int64
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "presence:",
		ScanCount: 100,
	}
}

// Store implements presence.Store using Redis. TTLs map directly onto
// Redis key expiration, so stale entries vanish without a sweeper.
type Store struct {
	client redis.UniversalClient
	config Config
}

// New creates a new Redis presence store.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "presence:"
	}
	if config.ScanCount == 0 {
		config.ScanCount = 100
	}

	return &Store{client: client, config: config}, nil
}

func (s *Store) key(k string) string {
	return s.config.KeyPrefix + k
}

// Get implements presence.Store
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get key: %w", err)
	}
	return value, nil
}

// Set implements presence.Store
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

// Delete implements presence.Store
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// List implements presence.Store
func (s *Store) List(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.config.KeyPrefix+"*", s.config.ScanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.config.KeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}
	return keys, nil
}
