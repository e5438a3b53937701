package codestore

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePutGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(4)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return now }

	require.ErrorIs(t, s.Put(ctx, "", "x", time.Minute), ErrEmptyKey)
	require.ErrorIs(t, s.Put(ctx, "k", "x", 0), ErrInvalidTTL)

	require.NoError(t, s.Put(ctx, "k", "123456", time.Minute))
	e, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Entry{Code: "123456", IssuedAt: now}, e)

	now = now.Add(time.Minute)
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok, "expired on read")
	require.Equal(t, 0, s.Len())
}

func TestMemoryStoreConsumeOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	require.NoError(t, s.Put(ctx, "k", "code", time.Minute))

	ok, err := s.Consume(ctx, "k", "wrong")
	require.NoError(t, err)
	require.False(t, ok)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := s.Consume(ctx, "k", "code"); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins)
}

func TestMemoryStoreConsumeExpired(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	now := time.Now()
	s.Now = func() time.Time { return now }
	require.NoError(t, s.Put(ctx, "k", "code", time.Second))

	now = now.Add(2 * time.Second)
	ok, err := s.Consume(ctx, "k", "code")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStoreBounded(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(3)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Put(ctx, fmt.Sprintf("k%d", i), "c", time.Duration(i+1)*time.Minute))
	}
	require.NoError(t, s.Put(ctx, "k3", "c", time.Hour))
	require.Equal(t, 3, s.Len())

	_, ok, _ := s.Get(ctx, "k0")
	require.False(t, ok, "entry closest to expiry evicted")
	_, ok, _ = s.Get(ctx, "k3")
	require.True(t, ok)

	// overwriting an existing key does not evict
	require.NoError(t, s.Put(ctx, "k3", "d", time.Hour))
	require.Equal(t, 3, s.Len())
}

// Runs against a live server when REDIS_ADDR is set.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	s := NewRedisStore(rdb)
	key := "test:codestore:" + uuid.NewString()
	t.Cleanup(func() { _ = s.Delete(ctx, key) })

	require.NoError(t, s.Put(ctx, key, "abc", time.Minute))
	e, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "abc", e.Code)
	require.WithinDuration(t, time.Now(), e.IssuedAt, 5*time.Second)

	ok, err = s.Consume(ctx, key, "nope")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.Consume(ctx, key, "abc")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)
}
