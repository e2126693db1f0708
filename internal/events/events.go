package events

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Topic names. All four topics are keyed by booking ID so every event of one
// booking lands on the same partition and replays in order.
const (
	TopicBookingCreated   = "booking.created"
	TopicPaymentSuccess   = "payment.success"
	TopicPaymentFailed    = "payment.failed"
	TopicBookingConfirmed = "booking.confirmed"
)

// Envelope carries the fields common to every event
type Envelope struct {
	ID         string    `json:"id"`
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	Version    int       `json:"version"`
}

func newEnvelope(eventType string) Envelope {
	return Envelope{
		ID:         uuid.New().String(),
		EventType:  eventType,
		OccurredAt: time.Now(),
		Version:    1,
	}
}

// BookingCreated is published when a booking row is created; it triggers the
// payment engine.
type BookingCreated struct {
	Envelope
	BookingID int64    `json:"booking_id"`
	UserID    string   `json:"user_id"`
	EventID   int64    `json:"event_id"`
	SeatIDs   []string `json:"seat_ids"`
	Amount    float64  `json:"amount"`
	Currency  string   `json:"currency"`
}

// NewBookingCreated builds a booking.created event
func NewBookingCreated(bookingID int64, userID string, eventID int64, seatIDs []string, amount float64) *BookingCreated {
	return &BookingCreated{
		Envelope:  newEnvelope(TopicBookingCreated),
		BookingID: bookingID,
		UserID:    userID,
		EventID:   eventID,
		SeatIDs:   seatIDs,
		Amount:    amount,
		Currency:  "USD",
	}
}

// Key returns the Kafka message key for partitioning
func (e *BookingCreated) Key() string {
	return strconv.FormatInt(e.BookingID, 10)
}

// PaymentResult is published on payment.success or payment.failed; it drives
// the booking saga to its terminal state.
type PaymentResult struct {
	Envelope
	BookingID        int64   `json:"booking_id"`
	UserID           string  `json:"user_id"`
	TransactionID    string  `json:"transaction_id"`
	Amount           float64 `json:"amount"`
	Currency         string  `json:"currency"`
	GatewayReference string  `json:"gateway_reference,omitempty"`
	FailureReason    string  `json:"failure_reason,omitempty"`
}

// NewPaymentSuccess builds a payment.success event
func NewPaymentSuccess(bookingID int64, userID, transactionID string, amount float64, gatewayReference string) *PaymentResult {
	return &PaymentResult{
		Envelope:         newEnvelope(TopicPaymentSuccess),
		BookingID:        bookingID,
		UserID:           userID,
		TransactionID:    transactionID,
		Amount:           amount,
		Currency:         "USD",
		GatewayReference: gatewayReference,
	}
}

// NewPaymentFailed builds a payment.failed event
func NewPaymentFailed(bookingID int64, userID, transactionID string, amount float64, reason string) *PaymentResult {
	return &PaymentResult{
		Envelope:      newEnvelope(TopicPaymentFailed),
		BookingID:     bookingID,
		UserID:        userID,
		TransactionID: transactionID,
		Amount:        amount,
		Currency:      "USD",
		FailureReason: reason,
	}
}

// Key returns the Kafka message key for partitioning
func (e *PaymentResult) Key() string {
	return strconv.FormatInt(e.BookingID, 10)
}

// BookingConfirmed is published when the saga reaches CONFIRMED; downstream
// services (ticket issuing, notifications) consume it.
type BookingConfirmed struct {
	Envelope
	BookingID   int64     `json:"booking_id"`
	UserID      string    `json:"user_id"`
	EventID     int64     `json:"event_id"`
	SeatIDs     []string  `json:"seat_ids"`
	Amount      float64   `json:"amount"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// NewBookingConfirmed builds a booking.confirmed event
func NewBookingConfirmed(bookingID int64, userID string, eventID int64, seatIDs []string, amount float64, confirmedAt time.Time) *BookingConfirmed {
	return &BookingConfirmed{
		Envelope:    newEnvelope(TopicBookingConfirmed),
		BookingID:   bookingID,
		UserID:      userID,
		EventID:     eventID,
		SeatIDs:     seatIDs,
		Amount:      amount,
		ConfirmedAt: confirmedAt,
	}
}

// Key returns the Kafka message key for partitioning
func (e *BookingConfirmed) Key() string {
	return strconv.FormatInt(e.BookingID, 10)
}
