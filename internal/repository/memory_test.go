package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticketblitz/ticketing/internal/domain"
)

func newPendingBooking(userID string) *domain.Booking {
	now := time.Now()
	return &domain.Booking{
		UserID:    userID,
		EventID:   1,
		SeatIDs:   []string{"A1", "A2"},
		Amount:    120,
		Status:    domain.BookingStatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(10 * time.Minute),
	}
}

func TestMemoryBooking_CreateAssignsIDs(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryBookingRepository(nil)

	b1 := newPendingBooking("u1")
	b2 := newPendingBooking("u1")
	require.NoError(t, repo.Create(ctx, b1, nil))
	require.NoError(t, repo.Create(ctx, b2, nil))

	assert.Greater(t, b2.ID, b1.ID, "IDs are monotonic")

	got, err := repo.GetByID(ctx, b1.ID)
	require.NoError(t, err)
	assert.Equal(t, b1.SeatIDs, got.SeatIDs)
}

func TestMemoryBooking_CreateRecordsOutbox(t *testing.T) {
	ctx := context.Background()
	outbox := NewMemoryOutboxRepository()
	repo := NewMemoryBookingRepository(outbox)

	b := newPendingBooking("u1")
	err := repo.Create(ctx, b, func(b *domain.Booking) (*domain.OutboxMessage, error) {
		return domain.NewOutboxMessage("booking", b.Key(), "booking.created", "booking.created", b)
	})
	require.NoError(t, err)

	msgs := outbox.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, b.Key(), msgs[0].PartitionKey)
}

func TestMemoryBooking_Transition_CASGuard(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryBookingRepository(nil)

	b := newPendingBooking("u1")
	require.NoError(t, repo.Create(ctx, b, nil))

	updated, ok, err := repo.Transition(ctx, b.ID, domain.BookingStatusConfirmed, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.BookingStatusConfirmed, updated.Status)
	assert.NotNil(t, updated.ConfirmedAt)

	// Replayed transition hits a terminal row: guard fails, state unchanged
	current, ok, err := repo.Transition(ctx, b.ID, domain.BookingStatusFailed, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, domain.BookingStatusConfirmed, current.Status)
}

func TestMemoryBooking_Transition_NotFound(t *testing.T) {
	repo := NewMemoryBookingRepository(nil)

	_, _, err := repo.Transition(context.Background(), 404, domain.BookingStatusConfirmed, nil)
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestMemoryBooking_Transition_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryBookingRepository(nil)

	b := newPendingBooking("u1")
	require.NoError(t, repo.Create(ctx, b, nil))

	targets := []domain.BookingStatus{
		domain.BookingStatusConfirmed,
		domain.BookingStatusFailed,
		domain.BookingStatusExpired,
		domain.BookingStatusCancelled,
	}

	var wins int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func(target domain.BookingStatus) {
			defer wg.Done()
			_, ok, err := repo.Transition(ctx, b.ID, target, nil)
			require.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(target)
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins, "exactly one transition wins")
}

func TestMemoryBooking_FindExpiredPending(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryBookingRepository(nil)

	expired := newPendingBooking("u1")
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, repo.Create(ctx, expired, nil))

	fresh := newPendingBooking("u2")
	require.NoError(t, repo.Create(ctx, fresh, nil))

	confirmed := newPendingBooking("u3")
	confirmed.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, repo.Create(ctx, confirmed, nil))
	_, _, err := repo.Transition(ctx, confirmed.ID, domain.BookingStatusConfirmed, nil)
	require.NoError(t, err)

	got, err := repo.FindExpiredPending(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, expired.ID, got[0].ID)
}

func TestMemoryTransaction_DuplicateKey(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTransactionRepository(nil)

	t1 := domain.NewTransaction(1, "u1", 100, "USD")
	require.NoError(t, repo.Create(ctx, t1))

	// Same booking/user derives the same key
	t2 := domain.NewTransaction(1, "u1", 100, "USD")
	assert.ErrorIs(t, repo.Create(ctx, t2), domain.ErrDuplicateKey)

	got, err := repo.GetByIdempotencyKey(ctx, t1.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, t1.ID, got.ID)
}

func TestMemoryTransaction_Finalize(t *testing.T) {
	ctx := context.Background()
	outbox := NewMemoryOutboxRepository()
	repo := NewMemoryTransactionRepository(outbox)

	tx := domain.NewTransaction(1, "u1", 100, "USD")
	require.NoError(t, repo.Create(ctx, tx))

	tx.MarkSuccess("ref-1")
	msg, err := domain.NewOutboxMessage("transaction", "1", "payment.success", "payment.success", tx)
	require.NoError(t, err)
	require.NoError(t, repo.Finalize(ctx, tx, msg))

	got, err := repo.GetByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusSuccess, got.Status)
	assert.Equal(t, "ref-1", got.GatewayReference)
	assert.Len(t, outbox.MessagesByTopic("payment.success"), 1)
}

func TestMemoryTransaction_FindStalePending(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTransactionRepository(nil)

	stale := domain.NewTransaction(1, "u1", 100, "USD")
	stale.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, repo.Create(ctx, stale))

	fresh := domain.NewTransaction(2, "u1", 100, "USD")
	require.NoError(t, repo.Create(ctx, fresh))

	got, err := repo.FindStalePending(ctx, time.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, stale.ID, got[0].ID)
}

func TestMemoryOutbox_Drain(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryOutboxRepository()

	for i := 0; i < 3; i++ {
		msg, err := domain.NewOutboxMessage("booking", "1", "booking.created", "booking.created", i)
		require.NoError(t, err)
		require.NoError(t, repo.Create(ctx, msg))
	}

	var delivered int
	published, err := repo.Drain(ctx, 10, func(ctx context.Context, msg *domain.OutboxMessage) error {
		delivered++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, published)
	assert.Equal(t, 3, delivered)

	// Nothing left to drain
	published, err = repo.Drain(ctx, 10, func(ctx context.Context, msg *domain.OutboxMessage) error {
		t.Fatal("published messages must not be re-delivered")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, published)
}

func TestMemoryOutbox_Drain_FailedRetriesThenGivesUp(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryOutboxRepository()

	msg, err := domain.NewOutboxMessage("booking", "1", "booking.created", "booking.created", nil)
	require.NoError(t, err)
	msg.MaxRetries = 2
	require.NoError(t, repo.Create(ctx, msg))

	boom := errors.New("broker down")
	for i := 0; i < 2; i++ {
		published, err := repo.Drain(ctx, 10, func(ctx context.Context, msg *domain.OutboxMessage) error {
			return boom
		})
		require.NoError(t, err)
		assert.Equal(t, 0, published)
	}

	// Retry budget exhausted; the row is left for inspection
	published, err := repo.Drain(ctx, 10, func(ctx context.Context, msg *domain.OutboxMessage) error {
		t.Fatal("exhausted message must not be retried")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, published)

	msgs := repo.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.OutboxStatusFailed, msgs[0].Status)
	assert.Equal(t, 2, msgs[0].RetryCount)
	assert.Equal(t, "broker down", msgs[0].LastError)
}
