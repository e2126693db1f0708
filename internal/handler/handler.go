package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ticketblitz/ticketing/internal/domain"
	"github.com/ticketblitz/ticketing/internal/middleware"
	"github.com/ticketblitz/ticketing/internal/response"
)

// BookingService is the saga surface the booking handler needs
type BookingService interface {
	CreateBooking(ctx context.Context, userID string, eventID int64, seatIDs []string, amount float64) (*domain.Booking, error)
	GetBooking(ctx context.Context, bookingID int64, userID string) (*domain.Booking, error)
	GetUserBookings(ctx context.Context, userID string) ([]*domain.Booking, error)
	Cancel(ctx context.Context, bookingID int64, userID string) (*domain.Booking, error)
}

// PaymentService is the engine surface the payment handler needs
type PaymentService interface {
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	GetTransactionsByBooking(ctx context.Context, bookingID int64) ([]*domain.Transaction, error)
	GetTransactionsByUser(ctx context.Context, userID string) ([]*domain.Transaction, error)
}

// SeatLockService is the lock surface the inventory handler needs
type SeatLockService interface {
	TryLock(ctx context.Context, eventID int64, seatID, userID string) error
	TryLockMany(ctx context.Context, eventID int64, seatIDs []string, userID string) error
	Release(ctx context.Context, eventID int64, seatID, userID string) error
	Check(ctx context.Context, eventID int64, seatID string) (string, time.Duration, error)
	LockedSeats(ctx context.Context, eventID int64) ([]string, error)
	ForceReleaseAll(ctx context.Context, eventID int64) (int, error)
}

// TatkalService is the counter surface the inventory handler needs
type TatkalService interface {
	Initialize(ctx context.Context, eventID int64, count int64) error
	TryReserve(ctx context.Context, eventID int64) error
	Release(ctx context.Context, eventID int64) error
	Remaining(ctx context.Context, eventID int64) (int64, error)
	IsSoldOut(ctx context.Context, eventID int64) (bool, error)
	Reset(ctx context.Context, eventID int64, count int64) error
	Delete(ctx context.Context, eventID int64) error
}

// requestUser resolves the acting user: an explicit user id in the request
// wins over the identity established by the middleware. Responds 401 and
// returns false when neither is present.
func requestUser(c *gin.Context, explicit string) (string, bool) {
	if explicit != "" {
		return explicit, true
	}
	if userID, err := middleware.UserID(c); err == nil {
		return userID, true
	}
	response.Unauthorized(c, "user identity required")
	return "", false
}

// queryUser reads the caller's user id from the query string, accepting
// both spellings clients use
func queryUser(c *gin.Context) string {
	if u := c.Query("user_id"); u != "" {
		return u
	}
	return c.Query("userId")
}

// resolvedUser returns the caller's identity if one is known, without
// requiring it
func resolvedUser(c *gin.Context) string {
	if u := queryUser(c); u != "" {
		return u
	}
	userID, err := middleware.UserID(c)
	if err != nil {
		return ""
	}
	return userID
}

// handleError maps domain errors to HTTP responses. Losing a lock or
// reservation race is not an error at this layer; those outcomes are
// reported by the inventory handlers as success=false with status 200.
func handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrBookingNotFound):
		response.NotFound(c, "booking not found")
	case errors.Is(err, domain.ErrTransactionNotFound):
		response.NotFound(c, "transaction not found")
	case errors.Is(err, domain.ErrLockNotFound):
		response.NotFound(c, "seat is not locked")
	case errors.Is(err, domain.ErrNotBookingOwner):
		response.Forbidden(c, "booking belongs to another user")
	case errors.Is(err, domain.ErrNotLockOwner):
		response.Conflict(c, "NOT_LOCK_OWNER", "seat is locked by another user")
	case errors.Is(err, domain.ErrSeatsNotOwned):
		response.BadRequest(c, "user does not hold locks on all requested seats")
	case errors.Is(err, domain.ErrNotInitialized):
		response.Conflict(c, "NOT_INITIALIZED", "inventory is not initialized for this event")
	case errors.Is(err, domain.ErrAlreadyConfirmed):
		response.Conflict(c, "ALREADY_CONFIRMED", "a confirmed booking cannot be cancelled")
	case errors.Is(err, domain.ErrInvalidBookingStatus):
		response.Conflict(c, "INVALID_STATUS", "booking is not in a cancellable state")
	case errors.Is(err, domain.ErrInvalidUserID),
		errors.Is(err, domain.ErrInvalidEventID),
		errors.Is(err, domain.ErrNoSeatsRequested),
		errors.Is(err, domain.ErrInvalidAmount):
		response.BadRequest(c, err.Error())
	default:
		response.InternalError(c, err)
	}
}
