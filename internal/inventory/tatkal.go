package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/ticketblitz/ticketing/internal/domain"
	"github.com/ticketblitz/ticketing/internal/lockstore"
	"github.com/ticketblitz/ticketing/internal/logger"
)

// TatkalService allocates first-come-first-served inventory through a single
// atomic counter per event. There is no seat map; a reservation is one unit
// of the pool. The counter may briefly go negative under contention; a
// negative result means the caller lost the race and the decrement is
// compensated immediately.
type TatkalService struct {
	store  lockstore.Store
	logger *logger.Logger
}

// NewTatkalService creates a Tatkal inventory service
func NewTatkalService(store lockstore.Store) *TatkalService {
	return &TatkalService{
		store:  store,
		logger: logger.Get(),
	}
}

// Initialize sets the available count for an event. Counters never expire;
// the sale window is managed above this layer.
func (s *TatkalService) Initialize(ctx context.Context, eventID int64, count int64) error {
	if count < 0 {
		return fmt.Errorf("inventory count must be non-negative, got %d", count)
	}
	if err := s.store.Set(ctx, TatkalInventoryKey(eventID), strconv.FormatInt(count, 10), 0); err != nil {
		return fmt.Errorf("initialize inventory: %w", err)
	}
	s.logger.Info("tatkal inventory initialized",
		zap.Int64("event_id", eventID),
		zap.Int64("count", count))
	return nil
}

// TryReserve claims one unit of the pool. Returns domain.ErrSoldOut when the
// pool is exhausted and domain.ErrNotInitialized when no counter exists.
func (s *TatkalService) TryReserve(ctx context.Context, eventID int64) error {
	key := TatkalInventoryKey(eventID)

	// DECR on a missing key would silently create it at -1, turning an
	// uninitialized event into a phantom pool.
	if _, err := s.store.Get(ctx, key); errors.Is(err, lockstore.ErrKeyNotFound) {
		return domain.ErrNotInitialized
	} else if err != nil {
		return fmt.Errorf("read inventory: %w", err)
	}

	remaining, err := s.store.Decr(ctx, key)
	if err != nil {
		return fmt.Errorf("reserve inventory: %w", err)
	}

	if remaining < 0 {
		// Lost the race; undo the decrement
		if _, err := s.store.Incr(ctx, key); err != nil {
			s.logger.Error("failed to compensate oversold decrement",
				zap.Int64("event_id", eventID),
				zap.Error(err))
		}
		return domain.ErrSoldOut
	}

	return nil
}

// Release returns one unit to the pool, compensating a reservation whose
// booking failed or expired
func (s *TatkalService) Release(ctx context.Context, eventID int64) error {
	key := TatkalInventoryKey(eventID)

	if _, err := s.store.Get(ctx, key); errors.Is(err, lockstore.ErrKeyNotFound) {
		return domain.ErrNotInitialized
	} else if err != nil {
		return fmt.Errorf("read inventory: %w", err)
	}

	if _, err := s.store.Incr(ctx, key); err != nil {
		return fmt.Errorf("release inventory: %w", err)
	}
	return nil
}

// Remaining returns the available count, clamped to zero for display.
// Returns -1 when the event was never initialized.
func (s *TatkalService) Remaining(ctx context.Context, eventID int64) (int64, error) {
	value, err := s.store.Get(ctx, TatkalInventoryKey(eventID))
	if errors.Is(err, lockstore.ErrKeyNotFound) {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read inventory: %w", err)
	}

	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt inventory counter for event %d: %w", eventID, err)
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}

// IsSoldOut reports whether the pool is exhausted. An uninitialized event is
// not sold out; it has no pool at all.
func (s *TatkalService) IsSoldOut(ctx context.Context, eventID int64) (bool, error) {
	remaining, err := s.Remaining(ctx, eventID)
	if err != nil {
		return false, err
	}
	return remaining == 0, nil
}

// Reset sets the pool back to the given count
func (s *TatkalService) Reset(ctx context.Context, eventID int64, count int64) error {
	return s.Initialize(ctx, eventID, count)
}

// Delete removes the event's counter entirely
func (s *TatkalService) Delete(ctx context.Context, eventID int64) error {
	if err := s.store.Delete(ctx, TatkalInventoryKey(eventID)); err != nil {
		return fmt.Errorf("delete inventory: %w", err)
	}
	return nil
}
