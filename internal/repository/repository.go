package repository

import (
	"context"
	"time"

	"github.com/ticketblitz/ticketing/internal/domain"
)

// OutboxFn builds the outbox message to insert alongside a booking write.
// It receives the booking as persisted, so the message can carry the
// generated ID. A nil OutboxFn means no event is recorded.
type OutboxFn func(*domain.Booking) (*domain.OutboxMessage, error)

// BookingRepository persists booking aggregates. Writes that announce an
// event insert the outbox row in the same transaction.
type BookingRepository interface {
	// Create inserts a PENDING booking, assigns its ID, and records the
	// outbox message built by outboxFn in the same transaction.
	Create(ctx context.Context, b *domain.Booking, outboxFn OutboxFn) error

	// GetByID returns a booking or domain.ErrBookingNotFound
	GetByID(ctx context.Context, id int64) (*domain.Booking, error)

	// GetByUser returns the user's bookings, newest first
	GetByUser(ctx context.Context, userID string) ([]*domain.Booking, error)

	// Transition moves a booking from PENDING to the target status with a
	// compare-and-set update. Returns the updated booking and true when the
	// guard matched; (current booking, false) when the booking was already
	// terminal. The outbox message, if any, commits with the update.
	Transition(ctx context.Context, id int64, target domain.BookingStatus, outboxFn OutboxFn) (*domain.Booking, bool, error)

	// FindExpiredPending returns PENDING bookings whose expiry has passed
	FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]*domain.Booking, error)
}

// TransactionRepository persists payment transactions
type TransactionRepository interface {
	// Create inserts a PENDING transaction. A concurrent insert with the
	// same idempotency key returns domain.ErrDuplicateKey.
	Create(ctx context.Context, t *domain.Transaction) error

	// GetByIdempotencyKey returns a transaction or domain.ErrTransactionNotFound
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error)

	// GetByID returns a transaction or domain.ErrTransactionNotFound
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)

	// GetByBooking returns all transactions for a booking
	GetByBooking(ctx context.Context, bookingID int64) ([]*domain.Transaction, error)

	// GetByUser returns all transactions of a user, newest first
	GetByUser(ctx context.Context, userID string) ([]*domain.Transaction, error)

	// Finalize writes the transaction's terminal state and the outbox
	// message in one transaction
	Finalize(ctx context.Context, t *domain.Transaction, outbox *domain.OutboxMessage) error

	// FindStalePending returns PENDING transactions created before cutoff
	FindStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Transaction, error)
}

// PublishFn delivers one outbox message to the bus
type PublishFn func(ctx context.Context, msg *domain.OutboxMessage) error

// OutboxRepository persists and drains the outbox table
type OutboxRepository interface {
	// Create inserts a pending outbox message outside any larger transaction
	Create(ctx context.Context, msg *domain.OutboxMessage) error

	// Drain claims up to limit publishable rows (pending, or failed with
	// retries left) with FOR UPDATE SKIP LOCKED, publishes each, and marks
	// the outcome. Concurrent drains never double-publish a claimed row.
	// Returns the number of messages published.
	Drain(ctx context.Context, limit int, publish PublishFn) (int, error)

	// DeletePublished removes published rows older than the cutoff
	DeletePublished(ctx context.Context, olderThan time.Time) (int64, error)
}
