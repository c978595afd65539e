package session

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// These cases exercise the store's own guards; none of them reach Redis.
func newUnreachableRedisStore() *RedisStore {
	return NewRedisStore(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}))
}

func TestRedisSaveRejectsEmptyID(t *testing.T) {
	store := newUnreachableRedisStore()
	err := store.Save(context.Background(), Session{ExpiresAt: time.Now().Add(time.Hour)})
	require.Error(t, err)
	require.Contains(t, err.Error(), "session id")
}

func TestRedisSaveRejectsExpiredSession(t *testing.T) {
	store := newUnreachableRedisStore()
	err := store.Save(context.Background(), Session{
		ID:        "sess-1",
		ExpiresAt: time.Now().Add(-time.Minute),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "expired")
}

func TestRedisGetEmptyID(t *testing.T) {
	store := newUnreachableRedisStore()
	_, err := store.Get(context.Background(), "")
	require.ErrorIs(t, err, ErrNoSuchSession)
}

func TestRedisDeleteEmptyIDIsNoop(t *testing.T) {
	store := newUnreachableRedisStore()
	require.NoError(t, store.Delete(context.Background(), ""))
}

func TestRedisStorePrefixOverride(t *testing.T) {
	store := NewRedisStoreWithPrefix(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), "gatekit:sess:")
	require.Equal(t, "gatekit:sess:", store.prefix)
}
