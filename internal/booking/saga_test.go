package booking

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticketblitz/ticketing/internal/domain"
	"github.com/ticketblitz/ticketing/internal/events"
	"github.com/ticketblitz/ticketing/internal/inventory"
	"github.com/ticketblitz/ticketing/internal/lockstore"
	"github.com/ticketblitz/ticketing/internal/repository"
)

type sagaFixture struct {
	saga   *Saga
	repo   *repository.MemoryBookingRepository
	locks  *inventory.SeatLockService
	outbox *repository.MemoryOutboxRepository
}

func newSagaFixture(t *testing.T) *sagaFixture {
	t.Helper()
	outbox := repository.NewMemoryOutboxRepository()
	repo := repository.NewMemoryBookingRepository(outbox)
	locks := inventory.NewSeatLockService(lockstore.NewMemoryStore(), time.Minute)
	return &sagaFixture{
		saga:   NewSaga(repo, locks, 10*time.Minute),
		repo:   repo,
		locks:  locks,
		outbox: outbox,
	}
}

func (f *sagaFixture) lockSeats(t *testing.T, eventID int64, seatIDs []string, userID string) {
	t.Helper()
	require.NoError(t, f.locks.TryLockMany(context.Background(), eventID, seatIDs, userID))
}

func (f *sagaFixture) createBooking(t *testing.T, userID string, eventID int64, seatIDs []string) *domain.Booking {
	t.Helper()
	f.lockSeats(t, eventID, seatIDs, userID)
	b, err := f.saga.CreateBooking(context.Background(), userID, eventID, seatIDs, 250.0)
	require.NoError(t, err)
	return b
}

func TestSaga_CreateBooking(t *testing.T) {
	f := newSagaFixture(t)

	b := f.createBooking(t, "user-1", 1, []string{"A1", "A2"})

	assert.Equal(t, domain.BookingStatusPending, b.Status)
	assert.True(t, b.ExpiresAt.After(b.CreatedAt))

	msgs := f.outbox.MessagesByTopic(events.TopicBookingCreated)
	require.Len(t, msgs, 1)
	assert.Equal(t, b.Key(), msgs[0].PartitionKey)

	var event events.BookingCreated
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &event))
	assert.Equal(t, b.ID, event.BookingID)
	assert.Equal(t, []string{"A1", "A2"}, event.SeatIDs)
	assert.Equal(t, 250.0, event.Amount)
}

func TestSaga_CreateBooking_SeatsNotOwned(t *testing.T) {
	f := newSagaFixture(t)

	// No locks held at all
	_, err := f.saga.CreateBooking(context.Background(), "user-1", 1, []string{"A1"}, 100.0)
	assert.ErrorIs(t, err, domain.ErrSeatsNotOwned)

	// Seat locked by someone else
	f.lockSeats(t, 1, []string{"A1"}, "user-2")
	_, err = f.saga.CreateBooking(context.Background(), "user-1", 1, []string{"A1"}, 100.0)
	assert.ErrorIs(t, err, domain.ErrSeatsNotOwned)

	assert.Empty(t, f.outbox.MessagesByTopic(events.TopicBookingCreated))
}

func TestSaga_CreateBooking_Validation(t *testing.T) {
	f := newSagaFixture(t)

	_, err := f.saga.CreateBooking(context.Background(), "", 1, []string{"A1"}, 100.0)
	assert.ErrorIs(t, err, domain.ErrInvalidUserID)

	_, err = f.saga.CreateBooking(context.Background(), "user-1", 1, nil, 100.0)
	assert.ErrorIs(t, err, domain.ErrNoSeatsRequested)

	_, err = f.saga.CreateBooking(context.Background(), "user-1", 1, []string{"A1"}, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestSaga_OnPaymentSuccess(t *testing.T) {
	f := newSagaFixture(t)
	b := f.createBooking(t, "user-1", 1, []string{"A1"})

	require.NoError(t, f.saga.OnPaymentSuccess(context.Background(), b.ID))

	got, err := f.repo.GetByID(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusConfirmed, got.Status)
	require.NotNil(t, got.ConfirmedAt)

	msgs := f.outbox.MessagesByTopic(events.TopicBookingConfirmed)
	require.Len(t, msgs, 1)

	var event events.BookingConfirmed
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &event))
	assert.Equal(t, b.ID, event.BookingID)
	assert.False(t, event.ConfirmedAt.IsZero())
}

func TestSaga_OnPaymentSuccess_ReleasesSeats(t *testing.T) {
	f := newSagaFixture(t)
	b := f.createBooking(t, "user-1", 1, []string{"A1", "A2"})

	require.NoError(t, f.saga.OnPaymentSuccess(context.Background(), b.ID))

	// Confirmed seats go back to the pool; the booking row is the record of sale
	require.NoError(t, f.locks.TryLockMany(context.Background(), 1, []string{"A1", "A2"}, "user-2"))
}

func TestSaga_OnPaymentSuccess_ReplayIgnored(t *testing.T) {
	f := newSagaFixture(t)
	b := f.createBooking(t, "user-1", 1, []string{"A1"})

	require.NoError(t, f.saga.OnPaymentSuccess(context.Background(), b.ID))
	require.NoError(t, f.saga.OnPaymentSuccess(context.Background(), b.ID))

	assert.Len(t, f.outbox.MessagesByTopic(events.TopicBookingConfirmed), 1)
}

func TestSaga_OnPaymentSuccess_NotFound(t *testing.T) {
	f := newSagaFixture(t)
	err := f.saga.OnPaymentSuccess(context.Background(), 999)
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestSaga_OnPaymentFailed_ReleasesSeats(t *testing.T) {
	f := newSagaFixture(t)
	b := f.createBooking(t, "user-1", 1, []string{"A1", "A2"})

	require.NoError(t, f.saga.OnPaymentFailed(context.Background(), b.ID, "card declined"))

	got, err := f.repo.GetByID(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusFailed, got.Status)

	// Seats are back in the pool
	require.NoError(t, f.locks.TryLockMany(context.Background(), 1, []string{"A1", "A2"}, "user-2"))
}

func TestSaga_PaymentResultsRace_OneWinner(t *testing.T) {
	f := newSagaFixture(t)
	b := f.createBooking(t, "user-1", 1, []string{"A1"})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		success := i%2 == 0
		go func() {
			defer wg.Done()
			if success {
				_ = f.saga.OnPaymentSuccess(context.Background(), b.ID)
			} else {
				_ = f.saga.OnPaymentFailed(context.Background(), b.ID, "card declined")
			}
		}()
	}
	wg.Wait()

	got, err := f.repo.GetByID(context.Background(), b.ID)
	require.NoError(t, err)
	assert.True(t, got.Status.IsTerminal())
	assert.NotEqual(t, domain.BookingStatusPending, got.Status)

	// booking.confirmed is emitted at most once
	assert.LessOrEqual(t, len(f.outbox.MessagesByTopic(events.TopicBookingConfirmed)), 1)
}

func TestSaga_Cancel(t *testing.T) {
	f := newSagaFixture(t)
	b := f.createBooking(t, "user-1", 1, []string{"A1"})

	cancelled, err := f.saga.Cancel(context.Background(), b.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCancelled, cancelled.Status)

	// Seats return to the pool
	require.NoError(t, f.locks.TryLock(context.Background(), 1, "A1", "user-2"))

	// Cancelling again is a no-op
	again, err := f.saga.Cancel(context.Background(), b.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCancelled, again.Status)
}

func TestSaga_Cancel_Guards(t *testing.T) {
	f := newSagaFixture(t)
	b := f.createBooking(t, "user-1", 1, []string{"A1"})

	_, err := f.saga.Cancel(context.Background(), b.ID, "user-2")
	assert.ErrorIs(t, err, domain.ErrNotBookingOwner)

	require.NoError(t, f.saga.OnPaymentSuccess(context.Background(), b.ID))
	_, err = f.saga.Cancel(context.Background(), b.ID, "user-1")
	assert.ErrorIs(t, err, domain.ErrAlreadyConfirmed)

	_, err = f.saga.Cancel(context.Background(), 999, "user-1")
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestSaga_ExpireSweep(t *testing.T) {
	f := newSagaFixture(t)

	// An expired PENDING booking: create with a short expiry
	short := NewSaga(f.repo, f.locks, time.Nanosecond)
	f.lockSeats(t, 1, []string{"A1"}, "user-1")
	expired, err := short.CreateBooking(context.Background(), "user-1", 1, []string{"A1"}, 100.0)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	// A live one
	live := f.createBooking(t, "user-2", 1, []string{"B1"})

	count, err := f.saga.ExpireSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := f.repo.GetByID(context.Background(), expired.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusExpired, got.Status)

	// Expired booking's seat is free again
	require.NoError(t, f.locks.TryLock(context.Background(), 1, "A1", "user-3"))

	untouched, err := f.repo.GetByID(context.Background(), live.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusPending, untouched.Status)

	// Re-running the sweep finds nothing
	count, err = f.saga.ExpireSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSaga_GetBooking_OwnerOnly(t *testing.T) {
	f := newSagaFixture(t)
	b := f.createBooking(t, "user-1", 1, []string{"A1"})

	got, err := f.saga.GetBooking(context.Background(), b.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	_, err = f.saga.GetBooking(context.Background(), b.ID, "user-2")
	assert.ErrorIs(t, err, domain.ErrNotBookingOwner)

	_, err = f.saga.GetBooking(context.Background(), 999, "user-1")
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestSaga_GetUserBookings(t *testing.T) {
	f := newSagaFixture(t)
	f.createBooking(t, "user-1", 1, []string{"A1"})
	f.createBooking(t, "user-1", 1, []string{"A2"})
	f.createBooking(t, "user-2", 1, []string{"B1"})

	mine, err := f.saga.GetUserBookings(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}
