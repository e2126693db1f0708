package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ticketblitz/ticketing/internal/domain"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations
const uniqueViolation = "23505"

// PostgresTransactionRepository implements TransactionRepository using PostgreSQL
type PostgresTransactionRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresTransactionRepository creates a new PostgresTransactionRepository
func NewPostgresTransactionRepository(pool *pgxpool.Pool) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{pool: pool}
}

const transactionColumns = `id, idempotency_key, booking_id, user_id, amount, currency, status, gateway_reference, failure_reason, created_at, updated_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	var status string
	var gatewayRef, failureReason *string
	err := row.Scan(
		&t.ID,
		&t.IdempotencyKey,
		&t.BookingID,
		&t.UserID,
		&t.Amount,
		&t.Currency,
		&status,
		&gatewayRef,
		&failureReason,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = domain.TransactionStatus(status)
	if gatewayRef != nil {
		t.GatewayReference = *gatewayRef
	}
	if failureReason != nil {
		t.FailureReason = *failureReason
	}
	return t, nil
}

// Create inserts a PENDING transaction. The unique index on idempotency_key
// arbitrates concurrent attempts; the loser gets domain.ErrDuplicateKey.
func (r *PostgresTransactionRepository) Create(ctx context.Context, t *domain.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, idempotency_key, booking_id, user_id, amount,
			currency, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.pool.Exec(ctx, query,
		t.ID,
		t.IdempotencyKey,
		t.BookingID,
		t.UserID,
		t.Amount,
		t.Currency,
		t.Status.String(),
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDuplicateKey
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByIdempotencyKey returns the transaction for an idempotency key
func (r *PostgresTransactionRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE idempotency_key = $1`

	t, err := scanTransaction(r.pool.QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction by key: %w", err)
	}
	return t, nil
}

// GetByID returns a transaction by ID
func (r *PostgresTransactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	t, err := scanTransaction(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return t, nil
}

// GetByBooking returns all transactions for a booking
func (r *PostgresTransactionRepository) GetByBooking(ctx context.Context, bookingID int64) ([]*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE booking_id = $1 ORDER BY created_at DESC`
	return r.query(ctx, query, bookingID)
}

// GetByUser returns all transactions of a user, newest first
func (r *PostgresTransactionRepository) GetByUser(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1 ORDER BY created_at DESC`
	return r.query(ctx, query, userID)
}

func (r *PostgresTransactionRepository) query(ctx context.Context, query string, arg interface{}) ([]*domain.Transaction, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

// Finalize writes the terminal state and the payment result event atomically
func (r *PostgresTransactionRepository) Finalize(ctx context.Context, t *domain.Transaction, outbox *domain.OutboxMessage) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin finalize: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE transactions
		SET status = $2, gateway_reference = $3, failure_reason = $4, updated_at = $5
		WHERE id = $1
	`
	result, err := tx.Exec(ctx, query,
		t.ID,
		t.Status.String(),
		nullIfEmpty(t.GatewayReference),
		nullIfEmpty(t.FailureReason),
		t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update transaction %s: %w", t.ID, err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrTransactionNotFound
	}

	if outbox != nil {
		if err := insertOutboxTx(ctx, tx, outbox); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit finalize: %w", err)
	}
	return nil
}

// FindStalePending returns PENDING transactions created before cutoff
func (r *PostgresTransactionRepository) FindStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("find stale transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ TransactionRepository = (*PostgresTransactionRepository)(nil)
