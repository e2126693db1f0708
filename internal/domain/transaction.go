package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TransactionStatus represents the status of a payment transaction
type TransactionStatus string

const (
	TransactionStatusPending TransactionStatus = "PENDING"
	TransactionStatusSuccess TransactionStatus = "SUCCESS"
	TransactionStatusFailed  TransactionStatus = "FAILED"
)

// IsValid checks if the status is a valid TransactionStatus
func (s TransactionStatus) IsValid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusSuccess, TransactionStatusFailed:
		return true
	}
	return false
}

// String returns the string representation of TransactionStatus
func (s TransactionStatus) String() string {
	return string(s)
}

// Transaction represents one payment attempt for a booking. The idempotency
// key makes retried attempts converge on a single row.
type Transaction struct {
	ID             string            `json:"id"`
	IdempotencyKey string            `json:"idempotency_key"`
	BookingID      int64             `json:"booking_id"`
	UserID         string            `json:"user_id"`
	Amount         float64           `json:"amount"`
	Currency       string            `json:"currency"`
	Status         TransactionStatus `json:"status"`
	// GatewayReference is set only on SUCCESS
	GatewayReference string `json:"gateway_reference,omitempty"`
	// FailureReason is set only on FAILED
	FailureReason string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// IdempotencyKey derives the unique key for a booking/user payment attempt
func IdempotencyKey(bookingID int64, userID string) string {
	return fmt.Sprintf("booking_%d_user_%s", bookingID, userID)
}

// NewTransaction creates a PENDING transaction for a booking
func NewTransaction(bookingID int64, userID string, amount float64, currency string) *Transaction {
	now := time.Now()
	if currency == "" {
		currency = "USD"
	}
	return &Transaction{
		ID:             uuid.New().String(),
		IdempotencyKey: IdempotencyKey(bookingID, userID),
		BookingID:      bookingID,
		UserID:         userID,
		Amount:         amount,
		Currency:       currency,
		Status:         TransactionStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsTerminal reports whether the transaction already has a final outcome
func (t *Transaction) IsTerminal() bool {
	return t.Status == TransactionStatusSuccess || t.Status == TransactionStatusFailed
}

// MarkSuccess records a successful gateway charge
func (t *Transaction) MarkSuccess(gatewayReference string) {
	t.Status = TransactionStatusSuccess
	t.GatewayReference = gatewayReference
	t.FailureReason = ""
	t.UpdatedAt = time.Now()
}

// MarkFailed records a declined or failed charge
func (t *Transaction) MarkFailed(reason string) {
	t.Status = TransactionStatusFailed
	t.FailureReason = reason
	t.GatewayReference = ""
	t.UpdatedAt = time.Now()
}
