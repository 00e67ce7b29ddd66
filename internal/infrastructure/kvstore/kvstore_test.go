package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/propertyhub-core/internal/infrastructure/config"
)

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "watchdog:outage_alert")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "watchdog:outage_alert", "alert-1", 0))
	v, err := s.Get(ctx, "watchdog:outage_alert")
	require.NoError(t, err)
	assert.Equal(t, "alert-1", v)

	ok, err := s.SetNX(ctx, "lock:escalation", "node-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, "lock:escalation", "node-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	v, err = s.Get(ctx, "lock:escalation")
	require.NoError(t, err)
	assert.Equal(t, "node-a", v)

	require.NoError(t, s.Delete(ctx, "watchdog:outage_alert"))
	require.NoError(t, s.Delete(ctx, "never-set"))
	_, err = s.Get(ctx, "watchdog:outage_alert")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, s.Close())
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemory_Expiry(t *testing.T) {
	m := NewMemory()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := m.SetNX(ctx, "lock", "a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)

	_, err = m.Get(ctx, "lock")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err = m.SetNX(ctx, "lock", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock can be retaken")
}

func TestRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	exerciseStore(t, s)
}

func TestRedis_Expiry(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "lock", "a", time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := s.Get(ctx, "lock")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.KVStoreConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	mr := miniredis.RunT(t)
	s, err = Open(ctx, config.KVStoreConfig{Backend: "redis", Redis: config.RedisConfig{Addr: mr.Addr()}})
	require.NoError(t, err)
	assert.IsType(t, &Redis{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, config.KVStoreConfig{Backend: "etcd"})
	assert.Error(t, err)
}
