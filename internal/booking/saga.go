package booking

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ticketblitz/ticketing/internal/domain"
	"github.com/ticketblitz/ticketing/internal/events"
	"github.com/ticketblitz/ticketing/internal/inventory"
	"github.com/ticketblitz/ticketing/internal/logger"
	"github.com/ticketblitz/ticketing/internal/repository"
)

const (
	// DefaultBookingExpiry is how long a PENDING booking may wait for its
	// payment result before the sweeper expires it
	DefaultBookingExpiry = 600 * time.Second

	// DefaultSweepLimit caps the bookings one sweep pass processes
	DefaultSweepLimit = 100
)

// Saga drives a booking from PENDING to exactly one terminal state. All
// transitions go through the repository's status-guarded compare-and-set, so
// duplicate payment results and races with the expiry sweeper resolve to a
// single winner.
type Saga struct {
	bookings repository.BookingRepository
	locks    *inventory.SeatLockService
	expiry   time.Duration
	logger   *logger.Logger
}

// NewSaga creates a booking saga. expiry of zero uses DefaultBookingExpiry.
func NewSaga(bookings repository.BookingRepository, locks *inventory.SeatLockService, expiry time.Duration) *Saga {
	if expiry <= 0 {
		expiry = DefaultBookingExpiry
	}
	return &Saga{
		bookings: bookings,
		locks:    locks,
		expiry:   expiry,
		logger:   logger.Get(),
	}
}

// CreateBooking starts the saga: it verifies the user holds the locks on all
// requested seats, persists a PENDING booking, and records the
// booking.created event in the same transaction.
func (s *Saga) CreateBooking(ctx context.Context, userID string, eventID int64, seatIDs []string, amount float64) (*domain.Booking, error) {
	now := time.Now()
	b := &domain.Booking{
		UserID:    userID,
		EventID:   eventID,
		SeatIDs:   seatIDs,
		Amount:    amount,
		Status:    domain.BookingStatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(s.expiry),
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}

	owned, err := s.locks.VerifyOwnership(ctx, eventID, seatIDs, userID)
	if err != nil {
		return nil, fmt.Errorf("verify seat ownership: %w", err)
	}
	if !owned {
		return nil, domain.ErrSeatsNotOwned
	}

	err = s.bookings.Create(ctx, b, func(persisted *domain.Booking) (*domain.OutboxMessage, error) {
		event := events.NewBookingCreated(persisted.ID, persisted.UserID, persisted.EventID, persisted.SeatIDs, persisted.Amount)
		return domain.NewOutboxMessage("booking", persisted.Key(), event.EventType, events.TopicBookingCreated, event)
	})
	if err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}

	s.logger.Info("booking created",
		zap.Int64("booking_id", b.ID),
		zap.String("user_id", userID),
		zap.Int64("event_id", eventID),
		zap.Int("seats", len(seatIDs)))
	return b, nil
}

// OnPaymentSuccess confirms the booking, records booking.confirmed and
// releases the seat locks; the CONFIRMED row is the record of sale. A
// redelivered result finds the booking already terminal and is ignored.
func (s *Saga) OnPaymentSuccess(ctx context.Context, bookingID int64) error {
	b, transitioned, err := s.bookings.Transition(ctx, bookingID, domain.BookingStatusConfirmed,
		func(updated *domain.Booking) (*domain.OutboxMessage, error) {
			confirmedAt := time.Now()
			if updated.ConfirmedAt != nil {
				confirmedAt = *updated.ConfirmedAt
			}
			event := events.NewBookingConfirmed(updated.ID, updated.UserID, updated.EventID, updated.SeatIDs, updated.Amount, confirmedAt)
			return domain.NewOutboxMessage("booking", updated.Key(), event.EventType, events.TopicBookingConfirmed, event)
		})
	if err != nil {
		return err
	}
	if !transitioned {
		s.logger.Info("payment success replay ignored, booking already terminal",
			zap.Int64("booking_id", bookingID),
			zap.String("status", b.Status.String()))
		return nil
	}

	s.locks.ReleaseMany(ctx, b.EventID, b.SeatIDs, b.UserID)

	s.logger.Info("booking confirmed", zap.Int64("booking_id", bookingID))
	return nil
}

// OnPaymentFailed fails the booking and returns its seats to the pool
func (s *Saga) OnPaymentFailed(ctx context.Context, bookingID int64, reason string) error {
	b, transitioned, err := s.bookings.Transition(ctx, bookingID, domain.BookingStatusFailed, nil)
	if err != nil {
		return err
	}
	if !transitioned {
		s.logger.Info("payment failure replay ignored, booking already terminal",
			zap.Int64("booking_id", bookingID),
			zap.String("status", b.Status.String()))
		return nil
	}

	s.locks.ReleaseMany(ctx, b.EventID, b.SeatIDs, b.UserID)

	s.logger.Info("booking failed",
		zap.Int64("booking_id", bookingID),
		zap.String("reason", reason))
	return nil
}

// Cancel cancels a PENDING booking on the owner's request. A CONFIRMED
// booking cannot be cancelled; cancelling an already cancelled booking is a
// no-op.
func (s *Saga) Cancel(ctx context.Context, bookingID int64, userID string) (*domain.Booking, error) {
	current, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !current.BelongsToUser(userID) {
		return nil, domain.ErrNotBookingOwner
	}
	if current.Status == domain.BookingStatusConfirmed {
		return nil, domain.ErrAlreadyConfirmed
	}

	b, transitioned, err := s.bookings.Transition(ctx, bookingID, domain.BookingStatusCancelled, nil)
	if err != nil {
		return nil, err
	}
	if !transitioned {
		switch b.Status {
		case domain.BookingStatusCancelled:
			return b, nil
		case domain.BookingStatusConfirmed:
			return nil, domain.ErrAlreadyConfirmed
		default:
			return nil, domain.ErrInvalidBookingStatus
		}
	}

	s.locks.ReleaseMany(ctx, b.EventID, b.SeatIDs, b.UserID)

	s.logger.Info("booking cancelled",
		zap.Int64("booking_id", bookingID),
		zap.String("user_id", userID))
	return b, nil
}

// ExpireSweep expires PENDING bookings past their deadline and releases
// their seats. Returns the number of bookings expired. Safe to run on
// multiple instances; the CAS transition lets only one sweep win per booking.
func (s *Saga) ExpireSweep(ctx context.Context) (int, error) {
	candidates, err := s.bookings.FindExpiredPending(ctx, time.Now(), DefaultSweepLimit)
	if err != nil {
		return 0, fmt.Errorf("find expired bookings: %w", err)
	}

	expired := 0
	for _, candidate := range candidates {
		b, transitioned, err := s.bookings.Transition(ctx, candidate.ID, domain.BookingStatusExpired, nil)
		if err != nil {
			s.logger.Error("failed to expire booking",
				zap.Int64("booking_id", candidate.ID),
				zap.Error(err))
			continue
		}
		if !transitioned {
			// A payment result landed between the find and the CAS
			continue
		}

		s.locks.ReleaseMany(ctx, b.EventID, b.SeatIDs, b.UserID)
		expired++
	}

	if expired > 0 {
		s.logger.Info("expired stale bookings", zap.Int("count", expired))
	}
	return expired, nil
}

// GetBooking returns a booking to its owner. Requests for another user's
// booking return domain.ErrNotBookingOwner.
func (s *Saga) GetBooking(ctx context.Context, bookingID int64, userID string) (*domain.Booking, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.BelongsToUser(userID) {
		return nil, domain.ErrNotBookingOwner
	}
	return b, nil
}

// GetUserBookings returns the user's bookings, newest first
func (s *Saga) GetUserBookings(ctx context.Context, userID string) ([]*domain.Booking, error) {
	return s.bookings.GetByUser(ctx, userID)
}
