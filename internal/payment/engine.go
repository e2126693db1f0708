package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ticketblitz/ticketing/internal/domain"
	"github.com/ticketblitz/ticketing/internal/events"
	"github.com/ticketblitz/ticketing/internal/gateway"
	"github.com/ticketblitz/ticketing/internal/logger"
	"github.com/ticketblitz/ticketing/internal/repository"
)

// DefaultGatewayTimeout bounds a single charge call
const DefaultGatewayTimeout = 5 * time.Second

// Engine charges bookings exactly once per (booking, user) pair. The
// idempotency key's unique index is the arbiter: whatever the delivery count
// of booking.created, only one transaction row exists and only one charge
// reaches the gateway.
type Engine struct {
	transactions repository.TransactionRepository
	gateway      gateway.PaymentGateway
	timeout      time.Duration
	logger       *logger.Logger
}

// NewEngine creates a payment engine. timeout of zero uses DefaultGatewayTimeout.
func NewEngine(transactions repository.TransactionRepository, gw gateway.PaymentGateway, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = DefaultGatewayTimeout
	}
	return &Engine{
		transactions: transactions,
		gateway:      gw,
		timeout:      timeout,
		logger:       logger.Get(),
	}
}

// Process charges a booking. Replays return the existing transaction without
// touching the gateway; a transaction still PENDING (a charge in flight
// elsewhere, or a crashed attempt awaiting the stale sweeper) is returned
// as-is.
func (e *Engine) Process(ctx context.Context, bookingID int64, userID string, amount float64) (*domain.Transaction, error) {
	key := domain.IdempotencyKey(bookingID, userID)

	existing, err := e.transactions.GetByIdempotencyKey(ctx, key)
	if err == nil {
		e.logger.Info("payment replay, returning existing transaction",
			zap.String("idempotency_key", key),
			zap.String("status", existing.Status.String()))
		return existing, nil
	}
	if !errors.Is(err, domain.ErrTransactionNotFound) {
		return nil, fmt.Errorf("lookup transaction: %w", err)
	}

	tx := domain.NewTransaction(bookingID, userID, amount, "USD")
	if err := e.transactions.Create(ctx, tx); err != nil {
		if errors.Is(err, domain.ErrDuplicateKey) {
			// Lost the insert race; the winner owns the charge
			return e.transactions.GetByIdempotencyKey(ctx, key)
		}
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	return e.charge(ctx, tx)
}

// charge runs the gateway call and finalizes the transaction. A gateway
// timeout leaves the row PENDING: the charge outcome is unknown and
// ResolveStale settles it later. Other gateway errors finalize as FAILED;
// the booking saga treats them like any other decline.
func (e *Engine) charge(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	chargeCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.gateway.Charge(chargeCtx, &gateway.ChargeRequest{
		Reference: tx.ID,
		BookingID: tx.BookingID,
		UserID:    tx.UserID,
		Amount:    tx.Amount,
		Currency:  tx.Currency,
	})

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		e.logger.Warn("gateway charge timed out, transaction left pending",
			zap.String("transaction_id", tx.ID),
			zap.Int64("booking_id", tx.BookingID),
			zap.Error(err))
		return tx, nil
	case err != nil:
		e.logger.Warn("gateway charge did not complete",
			zap.String("transaction_id", tx.ID),
			zap.Int64("booking_id", tx.BookingID),
			zap.Error(err))
		tx.MarkFailed(fmt.Sprintf("gateway error: %v", err))
	case resp.Success:
		tx.MarkSuccess(resp.GatewayReference)
	default:
		tx.MarkFailed(resp.FailureReason)
	}

	if err := e.finalize(ctx, tx); err != nil {
		return nil, err
	}

	e.logger.Info("payment finalized",
		zap.String("transaction_id", tx.ID),
		zap.Int64("booking_id", tx.BookingID),
		zap.String("status", tx.Status.String()))
	return tx, nil
}

// finalize writes the terminal state and the payment result event in one
// database transaction
func (e *Engine) finalize(ctx context.Context, tx *domain.Transaction) error {
	var event *events.PaymentResult
	var topic string
	if tx.Status == domain.TransactionStatusSuccess {
		topic = events.TopicPaymentSuccess
		event = events.NewPaymentSuccess(tx.BookingID, tx.UserID, tx.ID, tx.Amount, tx.GatewayReference)
	} else {
		topic = events.TopicPaymentFailed
		event = events.NewPaymentFailed(tx.BookingID, tx.UserID, tx.ID, tx.Amount, tx.FailureReason)
	}

	msg, err := domain.NewOutboxMessage("transaction", strconv.FormatInt(tx.BookingID, 10), event.EventType, topic, event)
	if err != nil {
		return fmt.Errorf("build payment event: %w", err)
	}

	if err := e.transactions.Finalize(ctx, tx, msg); err != nil {
		return fmt.Errorf("finalize transaction %s: %w", tx.ID, err)
	}
	return nil
}

// GetTransaction returns a transaction by ID
func (e *Engine) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return e.transactions.GetByID(ctx, id)
}

// GetTransactionsByBooking returns all transactions for a booking
func (e *Engine) GetTransactionsByBooking(ctx context.Context, bookingID int64) ([]*domain.Transaction, error) {
	return e.transactions.GetByBooking(ctx, bookingID)
}

// GetTransactionsByUser returns all transactions of a user
func (e *Engine) GetTransactionsByUser(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	return e.transactions.GetByUser(ctx, userID)
}

// ResolveStale finalizes PENDING transactions older than maxAge as FAILED.
// A transaction stuck in PENDING means the process died between the insert
// and the finalize; the charge outcome is unknown, so fail it and let the
// saga release the seats.
func (e *Engine) ResolveStale(ctx context.Context, maxAge time.Duration, limit int) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	stale, err := e.transactions.FindStalePending(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("find stale transactions: %w", err)
	}

	resolved := 0
	for _, tx := range stale {
		tx.MarkFailed("payment attempt abandoned")
		if err := e.finalize(ctx, tx); err != nil {
			e.logger.Error("failed to resolve stale transaction",
				zap.String("transaction_id", tx.ID),
				zap.Error(err))
			continue
		}
		resolved++
	}

	if resolved > 0 {
		e.logger.Info("resolved stale transactions", zap.Int("count", resolved))
	}
	return resolved, nil
}
