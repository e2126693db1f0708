package lockstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SetIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	ok, err := store.SetIfAbsent(ctx, "k", "a", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second set must lose
	ok, err = store.SetIfAbsent(ctx, "k", "b", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	value, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "a", value)
}

func TestMemoryStore_SetIfAbsent_AfterExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	ok, err := store.SetIfAbsent(ctx, "k", "a", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	ok, err = store.SetIfAbsent(ctx, "k", "b", 0)
	require.NoError(t, err)
	assert.True(t, ok, "expired key should be reusable")
}

func TestMemoryStore_Get_Missing(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemoryStore_DeleteIfEquals(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Set(ctx, "k", "owner-1", 0))

	deleted, err := store.DeleteIfEquals(ctx, "k", "owner-2")
	require.NoError(t, err)
	assert.False(t, deleted, "wrong owner must not delete")

	deleted, err = store.DeleteIfEquals(ctx, "k", "owner-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.DeleteIfEquals(ctx, "k", "owner-1")
	require.NoError(t, err)
	assert.False(t, deleted, "already deleted")
}

func TestMemoryStore_IncrDecr(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	n, err := store.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.Decr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// Decrement below zero is allowed; callers compensate
	n, err = store.Decr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), n)
}

func TestMemoryStore_Expire(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	ok, err := store.Expire(ctx, "missing", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", "v", 10*time.Millisecond))

	ok, err = store.Expire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	// Refreshed TTL keeps the key alive past the original expiry
	_, err = store.Get(ctx, "k")
	assert.NoError(t, err)
}

func TestMemoryStore_TTL(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	ttl, err := store.TTL(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, TTLMissing, ttl)

	require.NoError(t, store.Set(ctx, "forever", "v", 0))
	ttl, err = store.TTL(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, TTLNone, ttl)

	require.NoError(t, store.Set(ctx, "timed", "v", time.Minute))
	ttl, err = store.TTL(ctx, "timed")
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)
}

func TestMemoryStore_Scan(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Set(ctx, "lock:event:1:seat:A1", "u1", 0))
	require.NoError(t, store.Set(ctx, "lock:event:1:seat:A2", "u2", 0))
	require.NoError(t, store.Set(ctx, "lock:event:2:seat:A1", "u3", 0))

	keys, err := store.Scan(ctx, "lock:event:1:")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
	assert.NotContains(t, keys, "lock:event:2:seat:A1")
}

func TestMemoryStore_ConcurrentSetIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	const contenders = 100
	var wins int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			ok, err := store.SetIfAbsent(ctx, "contested", fmt.Sprintf("user-%d", id), 0)
			require.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins, "exactly one contender must win")
}

func TestMemoryStore_ConcurrentCounter(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	const goroutines = 50
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Incr(ctx, "counter")
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	value, err := store.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d", goroutines), value)
}
