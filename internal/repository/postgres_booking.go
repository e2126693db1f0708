package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ticketblitz/ticketing/internal/domain"
)

// PostgresBookingRepository implements BookingRepository using PostgreSQL
type PostgresBookingRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresBookingRepository creates a new PostgresBookingRepository
func NewPostgresBookingRepository(pool *pgxpool.Pool) *PostgresBookingRepository {
	return &PostgresBookingRepository{pool: pool}
}

const bookingColumns = `id, user_id, event_id, seat_ids, amount, status, created_at, confirmed_at, expires_at`

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	b := &domain.Booking{}
	var status string
	err := row.Scan(
		&b.ID,
		&b.UserID,
		&b.EventID,
		&b.SeatIDs,
		&b.Amount,
		&status,
		&b.CreatedAt,
		&b.ConfirmedAt,
		&b.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	b.Status = domain.BookingStatus(status)
	return b, nil
}

// Create inserts a PENDING booking and its outbox message in one transaction
func (r *PostgresBookingRepository) Create(ctx context.Context, b *domain.Booking, outboxFn OutboxFn) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create booking: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO bookings (user_id, event_id, seat_ids, amount, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err = tx.QueryRow(ctx, query,
		b.UserID,
		b.EventID,
		b.SeatIDs,
		b.Amount,
		b.Status.String(),
		b.CreatedAt,
		b.ExpiresAt,
	).Scan(&b.ID)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}

	if outboxFn != nil {
		msg, err := outboxFn(b)
		if err != nil {
			return fmt.Errorf("build outbox message: %w", err)
		}
		if err := insertOutboxTx(ctx, tx, msg); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create booking: %w", err)
	}
	return nil
}

// GetByID returns a booking by ID
func (r *PostgresBookingRepository) GetByID(ctx context.Context, id int64) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	b, err := scanBooking(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get booking %d: %w", id, err)
	}
	return b, nil
}

// GetByUser returns all bookings of a user, newest first
func (r *PostgresBookingRepository) GetByUser(ctx context.Context, userID string) ([]*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("get bookings for user %s: %w", userID, err)
	}
	defer rows.Close()

	var bookings []*domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// Transition runs the status-guarded CAS update. The WHERE status='PENDING'
// clause is the whole concurrency story: of two racing transitions, exactly
// one matches a row.
func (r *PostgresBookingRepository) Transition(ctx context.Context, id int64, target domain.BookingStatus, outboxFn OutboxFn) (*domain.Booking, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback(ctx)

	var confirmedAt *time.Time
	if target == domain.BookingStatusConfirmed {
		now := time.Now()
		confirmedAt = &now
	}

	query := `
		UPDATE bookings
		SET status = $2, confirmed_at = COALESCE($3, confirmed_at)
		WHERE id = $1 AND status = 'PENDING'
		RETURNING ` + bookingColumns

	b, err := scanBooking(tx.QueryRow(ctx, query, id, target.String(), confirmedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		// Guard did not match: row is terminal or missing. Report the
		// current state so callers can tell replay from not-found.
		current, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return nil, false, getErr
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("transition booking %d: %w", id, err)
	}

	if outboxFn != nil {
		msg, err := outboxFn(b)
		if err != nil {
			return nil, false, fmt.Errorf("build outbox message: %w", err)
		}
		if err := insertOutboxTx(ctx, tx, msg); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit transition: %w", err)
	}
	return b, true, nil
}

// FindExpiredPending returns PENDING bookings past their expiry
func (r *PostgresBookingRepository) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]*domain.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = 'PENDING' AND expires_at < $1
		ORDER BY expires_at ASC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("find expired bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

var _ BookingRepository = (*PostgresBookingRepository)(nil)
