package domain

import (
	"strconv"
	"time"
)

// BookingStatus represents the status of a booking
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "PENDING"
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusFailed    BookingStatus = "FAILED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
	BookingStatusExpired   BookingStatus = "EXPIRED"
)

// IsValid checks if the status is a valid BookingStatus
func (s BookingStatus) IsValid() bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusFailed,
		BookingStatusCancelled, BookingStatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed from s.
// Every status except PENDING is terminal.
func (s BookingStatus) IsTerminal() bool {
	return s.IsValid() && s != BookingStatusPending
}

// String returns the string representation of BookingStatus
func (s BookingStatus) String() string {
	return string(s)
}

// Booking represents a booking aggregate
type Booking struct {
	ID          int64         `json:"id"`
	UserID      string        `json:"user_id"`
	EventID     int64         `json:"event_id"`
	SeatIDs     []string      `json:"seat_ids"`
	Amount      float64       `json:"amount"`
	Status      BookingStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	ConfirmedAt *time.Time    `json:"confirmed_at,omitempty"`
	// ExpiresAt is fixed at creation and never moves
	ExpiresAt time.Time `json:"expires_at"`
}

// Key returns the booking ID as a string, used as the event partition key
func (b *Booking) Key() string {
	return strconv.FormatInt(b.ID, 10)
}

// IsExpiredAt checks if the booking is expired at a specific time
func (b *Booking) IsExpiredAt(t time.Time) bool {
	return t.After(b.ExpiresAt)
}

// CanTransition reports whether the booking may move to the target status.
// Only PENDING bookings transition; terminal states are frozen.
func (b *Booking) CanTransition(target BookingStatus) bool {
	return b.Status == BookingStatusPending && target.IsValid() && target != BookingStatusPending
}

// BelongsToUser checks if the booking belongs to the specified user
func (b *Booking) BelongsToUser(userID string) bool {
	return b.UserID == userID
}

// Validate validates booking fields at creation time
func (b *Booking) Validate() error {
	if b.UserID == "" {
		return ErrInvalidUserID
	}
	if b.EventID <= 0 {
		return ErrInvalidEventID
	}
	if len(b.SeatIDs) == 0 {
		return ErrNoSeatsRequested
	}
	if b.Amount < 0 {
		return ErrInvalidAmount
	}
	return nil
}
