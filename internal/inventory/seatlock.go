package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ticketblitz/ticketing/internal/domain"
	"github.com/ticketblitz/ticketing/internal/lockstore"
	"github.com/ticketblitz/ticketing/internal/logger"
)

// DefaultLockTTL is the seat lock lifetime when none is configured
const DefaultLockTTL = 600 * time.Second

// SeatLockService manages exclusive seat locks for visual seat selection.
// A lock is a lock-store entry keyed by event and seat whose value is the
// owning user ID; the TTL bounds how long an abandoned selection can block
// a seat.
type SeatLockService struct {
	store  lockstore.Store
	ttl    time.Duration
	logger *logger.Logger
}

// NewSeatLockService creates a seat lock service. ttl of zero uses DefaultLockTTL.
func NewSeatLockService(store lockstore.Store, ttl time.Duration) *SeatLockService {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &SeatLockService{
		store:  store,
		ttl:    ttl,
		logger: logger.Get(),
	}
}

// TryLock acquires the lock on a seat for userID. Re-acquiring a seat the
// user already holds refreshes the TTL instead of failing, so a user
// re-clicking their own seat never loses it.
func (s *SeatLockService) TryLock(ctx context.Context, eventID int64, seatID, userID string) error {
	key := SeatLockKey(eventID, seatID)

	acquired, err := s.store.SetIfAbsent(ctx, key, userID, s.ttl)
	if err != nil {
		return fmt.Errorf("acquire seat lock: %w", err)
	}
	if acquired {
		return nil
	}

	owner, err := s.store.Get(ctx, key)
	if errors.Is(err, lockstore.ErrKeyNotFound) {
		// Lock expired between SETNX and GET; take it
		acquired, err := s.store.SetIfAbsent(ctx, key, userID, s.ttl)
		if err != nil {
			return fmt.Errorf("acquire seat lock: %w", err)
		}
		if acquired {
			return nil
		}
		return domain.ErrSeatAlreadyLocked
	}
	if err != nil {
		return fmt.Errorf("read seat lock owner: %w", err)
	}

	if owner != userID {
		return domain.ErrSeatAlreadyLocked
	}

	// Re-entrant: refresh the hold
	if _, err := s.store.Expire(ctx, key, s.ttl); err != nil {
		return fmt.Errorf("refresh seat lock: %w", err)
	}
	return nil
}

// TryLockMany acquires locks on all seats or none. On the first conflict the
// seats already acquired in this call are rolled back and
// domain.ErrSeatAlreadyLocked is returned.
func (s *SeatLockService) TryLockMany(ctx context.Context, eventID int64, seatIDs []string, userID string) error {
	var acquired []string

	for _, seatID := range seatIDs {
		if err := s.TryLock(ctx, eventID, seatID, userID); err != nil {
			s.rollback(ctx, eventID, acquired, userID)
			if errors.Is(err, domain.ErrSeatAlreadyLocked) {
				return fmt.Errorf("seat %s: %w", seatID, domain.ErrSeatAlreadyLocked)
			}
			return err
		}
		acquired = append(acquired, seatID)
	}

	return nil
}

func (s *SeatLockService) rollback(ctx context.Context, eventID int64, seatIDs []string, userID string) {
	for _, seatID := range seatIDs {
		if _, err := s.store.DeleteIfEquals(ctx, SeatLockKey(eventID, seatID), userID); err != nil {
			s.logger.Warn("failed to roll back seat lock",
				zap.Int64("event_id", eventID),
				zap.String("seat_id", seatID),
				zap.Error(err))
		}
	}
}

// Release removes the lock on a seat if userID owns it. Releasing an absent
// lock is a no-op; releasing another user's lock returns domain.ErrNotLockOwner.
func (s *SeatLockService) Release(ctx context.Context, eventID int64, seatID, userID string) error {
	key := SeatLockKey(eventID, seatID)

	deleted, err := s.store.DeleteIfEquals(ctx, key, userID)
	if err != nil {
		return fmt.Errorf("release seat lock: %w", err)
	}
	if deleted {
		return nil
	}

	if _, err := s.store.Get(ctx, key); errors.Is(err, lockstore.ErrKeyNotFound) {
		// Already released or expired
		return nil
	}
	return domain.ErrNotLockOwner
}

// ReleaseMany releases the user's locks on the given seats, best-effort.
// Seats held by other users or already released are skipped.
func (s *SeatLockService) ReleaseMany(ctx context.Context, eventID int64, seatIDs []string, userID string) {
	for _, seatID := range seatIDs {
		if err := s.Release(ctx, eventID, seatID, userID); err != nil {
			s.logger.Warn("failed to release seat lock",
				zap.Int64("event_id", eventID),
				zap.String("seat_id", seatID),
				zap.String("user_id", userID),
				zap.Error(err))
		}
	}
}

// Owner returns the user holding the lock on a seat, or
// domain.ErrLockNotFound if the seat is free.
func (s *SeatLockService) Owner(ctx context.Context, eventID int64, seatID string) (string, error) {
	owner, err := s.store.Get(ctx, SeatLockKey(eventID, seatID))
	if errors.Is(err, lockstore.ErrKeyNotFound) {
		return "", domain.ErrLockNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read seat lock: %w", err)
	}
	return owner, nil
}

// Check reports the current hold on a seat: the owning user and the
// remaining TTL. Returns domain.ErrLockNotFound when the seat is free.
func (s *SeatLockService) Check(ctx context.Context, eventID int64, seatID string) (string, time.Duration, error) {
	key := SeatLockKey(eventID, seatID)

	owner, err := s.store.Get(ctx, key)
	if errors.Is(err, lockstore.ErrKeyNotFound) {
		return "", 0, domain.ErrLockNotFound
	}
	if err != nil {
		return "", 0, fmt.Errorf("read seat lock: %w", err)
	}

	ttl, err := s.store.TTL(ctx, key)
	if err != nil {
		return owner, 0, fmt.Errorf("read seat lock ttl: %w", err)
	}
	if ttl < 0 {
		ttl = 0
	}
	return owner, ttl, nil
}

// VerifyOwnership reports whether userID holds the locks on all given seats
func (s *SeatLockService) VerifyOwnership(ctx context.Context, eventID int64, seatIDs []string, userID string) (bool, error) {
	for _, seatID := range seatIDs {
		owner, err := s.Owner(ctx, eventID, seatID)
		if errors.Is(err, domain.ErrLockNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if owner != userID {
			return false, nil
		}
	}
	return true, nil
}

// LockedSeats returns the IDs of all currently locked seats of an event
func (s *SeatLockService) LockedSeats(ctx context.Context, eventID int64) ([]string, error) {
	keys, err := s.store.Scan(ctx, SeatLockPrefix(eventID))
	if err != nil {
		return nil, fmt.Errorf("scan seat locks: %w", err)
	}

	seats := make([]string, 0, len(keys))
	for _, key := range keys {
		seats = append(seats, SeatIDFromLockKey(eventID, key))
	}
	return seats, nil
}

// ForceReleaseAll removes every seat lock of an event regardless of owner.
// Admin operation for resetting an event's seat map.
func (s *SeatLockService) ForceReleaseAll(ctx context.Context, eventID int64) (int, error) {
	keys, err := s.store.Scan(ctx, SeatLockPrefix(eventID))
	if err != nil {
		return 0, fmt.Errorf("scan seat locks: %w", err)
	}

	released := 0
	for _, key := range keys {
		if err := s.store.Delete(ctx, key); err != nil {
			s.logger.Warn("failed to force-release seat lock",
				zap.String("key", key), zap.Error(err))
			continue
		}
		released++
	}

	s.logger.Info("force-released seat locks",
		zap.Int64("event_id", eventID),
		zap.Int("released", released))
	return released, nil
}
