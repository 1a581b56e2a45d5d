//go:build integration

package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/immigrationai/subsync/presence"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available at %s: %v", addr, err)
	}

	config := DefaultConfig()
	config.KeyPrefix = fmt.Sprintf("presence-test:%d:", time.Now().UnixNano())
	store, err := New(client, config)
	require.NoError(t, err)
	return store
}

func TestSetGetDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	value, err := store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, store.Set(ctx, "user-1", "conn-a", time.Minute))

	value, err = store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "conn-a", value)

	require.NoError(t, store.Delete(ctx, "user-1"))

	value, err = store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, value)
}

func TestList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "user-1", "conn-a", time.Minute))
	require.NoError(t, store.Set(ctx, "user-2", "conn-b", time.Minute))

	keys, err := store.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user-1", "user-2"}, keys)
}

func TestTTLExpiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "user-1", "conn-a", 100*time.Millisecond))
	time.Sleep(200 * time.Millisecond)

	value, err := store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, value, "entry should expire with its TTL")
}

func TestTrackerAgainstRedis(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tracker, err := presence.NewTracker(presence.Config{Store: store, TTL: time.Minute})
	require.NoError(t, err)

	require.NoError(t, tracker.Connect(ctx, "user-1", "conn-a"))

	online, err := tracker.IsOnline(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, online)

	require.NoError(t, tracker.Disconnect(ctx, "user-1", "conn-a"))

	online, err = tracker.IsOnline(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, online)
}
