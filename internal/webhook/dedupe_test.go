package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore_MarkProcessed(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client)
	ctx := context.Background()

	first, err := store.MarkProcessed(ctx, "abc", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := store.MarkProcessed(ctx, "abc", time.Minute)
	require.NoError(t, err)
	assert.False(t, again)

	assert.True(t, mr.Exists("webhook:processed:abc"))
	assert.Equal(t, time.Minute, mr.TTL("webhook:processed:abc"))

	mr.FastForward(2 * time.Minute)
	expired, err := store.MarkProcessed(ctx, "abc", time.Minute)
	require.NoError(t, err)
	assert.True(t, expired)
}

func TestRedisStore_Release(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client)
	ctx := context.Background()

	_, err := store.MarkProcessed(ctx, "abc", time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.Release(ctx, "abc"))

	first, err := store.MarkProcessed(ctx, "abc", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	_, err := NewRedisStore(client).MarkProcessed(context.Background(), "abc", time.Minute)
	assert.Error(t, err)
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	first, err := store.MarkProcessed(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)

	dup, err := store.MarkProcessed(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.False(t, dup)

	now = now.Add(2 * time.Hour)
	again, err := store.MarkProcessed(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.True(t, again)
}
