package inventory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticketblitz/ticketing/internal/domain"
	"github.com/ticketblitz/ticketing/internal/lockstore"
)

func newSeatLockService(ttl time.Duration) (*SeatLockService, *lockstore.MemoryStore) {
	store := lockstore.NewMemoryStore()
	return NewSeatLockService(store, ttl), store
}

func TestSeatLock_TryLock(t *testing.T) {
	ctx := context.Background()
	svc, _ := newSeatLockService(0)

	require.NoError(t, svc.TryLock(ctx, 1, "A1", "user-1"))

	err := svc.TryLock(ctx, 1, "A1", "user-2")
	assert.ErrorIs(t, err, domain.ErrSeatAlreadyLocked)

	// Same seat ID on a different event is independent
	assert.NoError(t, svc.TryLock(ctx, 2, "A1", "user-2"))
}

func TestSeatLock_TryLock_Reentrant(t *testing.T) {
	ctx := context.Background()
	store := lockstore.NewMemoryStore()
	svc := NewSeatLockService(store, time.Minute)

	require.NoError(t, svc.TryLock(ctx, 1, "A1", "user-1"))

	ttlBefore, err := store.TTL(ctx, SeatLockKey(1, "A1"))
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	// Re-acquiring your own seat refreshes the hold
	require.NoError(t, svc.TryLock(ctx, 1, "A1", "user-1"))

	ttlAfter, err := store.TTL(ctx, SeatLockKey(1, "A1"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ttlAfter, ttlBefore-5*time.Millisecond)

	owner, err := svc.Owner(ctx, 1, "A1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", owner)
}

func TestSeatLock_Contention_SingleWinner(t *testing.T) {
	ctx := context.Background()
	svc, _ := newSeatLockService(0)

	const contenders = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	var winners []string

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", id)
			if err := svc.TryLock(ctx, 1, "A1", user); err == nil {
				mu.Lock()
				winners = append(winners, user)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, winners, 1, "exactly one contender wins the seat")

	owner, err := svc.Owner(ctx, 1, "A1")
	require.NoError(t, err)
	assert.Equal(t, winners[0], owner)
}

func TestSeatLock_TryLockMany_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	svc, _ := newSeatLockService(0)

	// user-2 already holds B2
	require.NoError(t, svc.TryLock(ctx, 1, "B2", "user-2"))

	err := svc.TryLockMany(ctx, 1, []string{"B1", "B2", "B3"}, "user-1")
	assert.ErrorIs(t, err, domain.ErrSeatAlreadyLocked)

	// B1 must have been rolled back, B3 never acquired
	_, err = svc.Owner(ctx, 1, "B1")
	assert.ErrorIs(t, err, domain.ErrLockNotFound)
	_, err = svc.Owner(ctx, 1, "B3")
	assert.ErrorIs(t, err, domain.ErrLockNotFound)

	// user-2's lock untouched by the rollback
	owner, err := svc.Owner(ctx, 1, "B2")
	require.NoError(t, err)
	assert.Equal(t, "user-2", owner)
}

func TestSeatLock_TryLockMany_Success(t *testing.T) {
	ctx := context.Background()
	svc, _ := newSeatLockService(0)

	seats := []string{"C1", "C2", "C3"}
	require.NoError(t, svc.TryLockMany(ctx, 1, seats, "user-1"))

	ok, err := svc.VerifyOwnership(ctx, 1, seats, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSeatLock_Release(t *testing.T) {
	ctx := context.Background()
	svc, _ := newSeatLockService(0)

	require.NoError(t, svc.TryLock(ctx, 1, "A1", "user-1"))

	// Wrong owner cannot release
	err := svc.Release(ctx, 1, "A1", "user-2")
	assert.ErrorIs(t, err, domain.ErrNotLockOwner)

	require.NoError(t, svc.Release(ctx, 1, "A1", "user-1"))

	// Releasing an already-released seat is a no-op
	assert.NoError(t, svc.Release(ctx, 1, "A1", "user-1"))

	// Seat is free again
	assert.NoError(t, svc.TryLock(ctx, 1, "A1", "user-2"))
}

func TestSeatLock_VerifyOwnership(t *testing.T) {
	ctx := context.Background()
	svc, _ := newSeatLockService(0)

	require.NoError(t, svc.TryLock(ctx, 1, "A1", "user-1"))
	require.NoError(t, svc.TryLock(ctx, 1, "A2", "user-2"))

	ok, err := svc.VerifyOwnership(ctx, 1, []string{"A1"}, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Mixed ownership fails
	ok, err = svc.VerifyOwnership(ctx, 1, []string{"A1", "A2"}, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)

	// Unlocked seat fails
	ok, err = svc.VerifyOwnership(ctx, 1, []string{"A1", "A3"}, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSeatLock_LockedSeats(t *testing.T) {
	ctx := context.Background()
	svc, _ := newSeatLockService(0)

	require.NoError(t, svc.TryLock(ctx, 1, "A1", "user-1"))
	require.NoError(t, svc.TryLock(ctx, 1, "A2", "user-2"))
	require.NoError(t, svc.TryLock(ctx, 2, "A9", "user-3"))

	seats, err := svc.LockedSeats(ctx, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A1", "A2"}, seats)
}

func TestSeatLock_ForceReleaseAll(t *testing.T) {
	ctx := context.Background()
	svc, _ := newSeatLockService(0)

	require.NoError(t, svc.TryLockMany(ctx, 1, []string{"A1", "A2", "A3"}, "user-1"))
	require.NoError(t, svc.TryLock(ctx, 2, "A1", "user-2"))

	released, err := svc.ForceReleaseAll(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, released)

	seats, err := svc.LockedSeats(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, seats)

	// Other events untouched
	owner, err := svc.Owner(ctx, 2, "A1")
	require.NoError(t, err)
	assert.Equal(t, "user-2", owner)
}

func TestSeatLock_ExpiredLockIsReacquirable(t *testing.T) {
	ctx := context.Background()
	svc, _ := newSeatLockService(10 * time.Millisecond)

	require.NoError(t, svc.TryLock(ctx, 1, "A1", "user-1"))
	time.Sleep(20 * time.Millisecond)

	assert.NoError(t, svc.TryLock(ctx, 1, "A1", "user-2"))
}

func TestSeatLock_Check(t *testing.T) {
	ctx := context.Background()
	svc, _ := newSeatLockService(10 * time.Minute)

	_, _, err := svc.Check(ctx, 1, "A1")
	assert.ErrorIs(t, err, domain.ErrLockNotFound)

	require.NoError(t, svc.TryLock(ctx, 1, "A1", "user-1"))

	owner, ttl, err := svc.Check(ctx, 1, "A1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", owner)
	assert.Greater(t, ttl, 9*time.Minute)
}
