package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ticketblitz/ticketing/internal/domain"
)

// PostgresOutboxRepository implements OutboxRepository using PostgreSQL
type PostgresOutboxRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresOutboxRepository creates a new PostgresOutboxRepository
func NewPostgresOutboxRepository(pool *pgxpool.Pool) *PostgresOutboxRepository {
	return &PostgresOutboxRepository{pool: pool}
}

// insertOutboxTx inserts an outbox message within an existing transaction.
// Shared by the booking and transaction repositories so state changes and
// their events commit together.
func insertOutboxTx(ctx context.Context, tx pgx.Tx, msg *domain.OutboxMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}

	query := `
		INSERT INTO outbox (
			id, aggregate_type, aggregate_id, event_type,
			payload, topic, partition_key, status,
			retry_count, max_retries, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := tx.Exec(ctx, query,
		msg.ID,
		msg.AggregateType,
		msg.AggregateID,
		msg.EventType,
		msg.Payload,
		msg.Topic,
		msg.PartitionKey,
		string(msg.Status),
		msg.RetryCount,
		msg.MaxRetries,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}
	return nil
}

// Create inserts a pending outbox message
func (r *PostgresOutboxRepository) Create(ctx context.Context, msg *domain.OutboxMessage) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin outbox insert: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertOutboxTx(ctx, tx, msg); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Drain claims publishable rows with FOR UPDATE SKIP LOCKED so concurrent
// workers partition the backlog instead of fighting over it, publishes each,
// and records the outcome in the same transaction.
func (r *PostgresOutboxRepository) Drain(ctx context.Context, limit int, publish PublishFn) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin drain: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		SELECT
			id, aggregate_type, aggregate_id, event_type,
			payload, topic, partition_key, status,
			retry_count, max_retries, last_error,
			created_at, published_at
		FROM outbox
		WHERE status = 'pending'
		   OR (status = 'failed' AND retry_count < max_retries)
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`

	rows, err := tx.Query(ctx, query, limit)
	if err != nil {
		return 0, fmt.Errorf("claim outbox messages: %w", err)
	}

	messages, err := scanOutboxMessages(rows)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, msg := range messages {
		if err := publish(ctx, msg); err != nil {
			msg.MarkAsFailed(err.Error())
			if uerr := markFailedTx(ctx, tx, msg); uerr != nil {
				return published, uerr
			}
			continue
		}

		msg.MarkAsPublished()
		if uerr := markPublishedTx(ctx, tx, msg); uerr != nil {
			return published, uerr
		}
		published++
	}

	if err := tx.Commit(ctx); err != nil {
		return published, fmt.Errorf("commit drain: %w", err)
	}
	return published, nil
}

func markPublishedTx(ctx context.Context, tx pgx.Tx, msg *domain.OutboxMessage) error {
	query := `UPDATE outbox SET status = 'published', published_at = $2 WHERE id = $1`
	if _, err := tx.Exec(ctx, query, msg.ID, msg.PublishedAt); err != nil {
		return fmt.Errorf("mark outbox message published: %w", err)
	}
	return nil
}

func markFailedTx(ctx context.Context, tx pgx.Tx, msg *domain.OutboxMessage) error {
	query := `
		UPDATE outbox
		SET status = 'failed', last_error = $2, retry_count = retry_count + 1
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, query, msg.ID, msg.LastError); err != nil {
		return fmt.Errorf("mark outbox message failed: %w", err)
	}
	return nil
}

// DeletePublished removes published rows older than the cutoff
func (r *PostgresOutboxRepository) DeletePublished(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `DELETE FROM outbox WHERE status = 'published' AND published_at < $1`

	result, err := r.pool.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("delete published messages: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanOutboxMessages(rows pgx.Rows) ([]*domain.OutboxMessage, error) {
	defer rows.Close()

	var messages []*domain.OutboxMessage
	for rows.Next() {
		msg := &domain.OutboxMessage{}
		var status string
		var lastError *string

		err := rows.Scan(
			&msg.ID,
			&msg.AggregateType,
			&msg.AggregateID,
			&msg.EventType,
			&msg.Payload,
			&msg.Topic,
			&msg.PartitionKey,
			&status,
			&msg.RetryCount,
			&msg.MaxRetries,
			&lastError,
			&msg.CreatedAt,
			&msg.PublishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}

		msg.Status = domain.OutboxStatus(status)
		if lastError != nil {
			msg.LastError = *lastError
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox messages: %w", err)
	}
	return messages, nil
}

var _ OutboxRepository = (*PostgresOutboxRepository)(nil)
