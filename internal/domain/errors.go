package domain

import "errors"

// Domain errors
var (
	// Booking errors
	ErrBookingNotFound      = errors.New("booking not found")
	ErrBookingExpired       = errors.New("booking has expired")
	ErrAlreadyConfirmed     = errors.New("booking already confirmed")
	ErrInvalidBookingStatus = errors.New("invalid booking status")
	ErrNotBookingOwner      = errors.New("booking belongs to another user")
	ErrInvalidUserID        = errors.New("invalid user id")
	ErrInvalidEventID       = errors.New("invalid event id")
	ErrNoSeatsRequested     = errors.New("no seats requested")
	ErrInvalidAmount        = errors.New("invalid amount")

	// Reservation errors
	ErrSeatAlreadyLocked = errors.New("seat is locked by another user")
	ErrSeatsNotOwned     = errors.New("seats are not locked by this user")
	ErrNotLockOwner      = errors.New("lock is held by another user")
	ErrLockNotFound      = errors.New("seat lock not found")
	ErrSoldOut           = errors.New("event is sold out")
	ErrNotInitialized    = errors.New("inventory not initialized")

	// Payment errors
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrDuplicateKey        = errors.New("duplicate key")
)
