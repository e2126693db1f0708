package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ticketblitz/ticketing/internal/domain"
)

// MemoryBookingRepository is an in-memory BookingRepository for tests
type MemoryBookingRepository struct {
	mu       sync.Mutex
	bookings map[int64]*domain.Booking
	outbox   *MemoryOutboxRepository
	nextID   int64
}

// NewMemoryBookingRepository creates an empty repository. The outbox
// repository may be nil when no test inspects recorded events.
func NewMemoryBookingRepository(outbox *MemoryOutboxRepository) *MemoryBookingRepository {
	return &MemoryBookingRepository{
		bookings: make(map[int64]*domain.Booking),
		outbox:   outbox,
		nextID:   1,
	}
}

func copyBooking(b *domain.Booking) *domain.Booking {
	c := *b
	c.SeatIDs = append([]string(nil), b.SeatIDs...)
	if b.ConfirmedAt != nil {
		t := *b.ConfirmedAt
		c.ConfirmedAt = &t
	}
	return &c
}

func (r *MemoryBookingRepository) Create(ctx context.Context, b *domain.Booking, outboxFn OutboxFn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b.ID = r.nextID
	r.nextID++
	r.bookings[b.ID] = copyBooking(b)

	if outboxFn != nil {
		msg, err := outboxFn(b)
		if err != nil {
			delete(r.bookings, b.ID)
			return err
		}
		r.recordOutbox(msg)
	}
	return nil
}

func (r *MemoryBookingRepository) GetByID(ctx context.Context, id int64) (*domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	return copyBooking(b), nil
}

func (r *MemoryBookingRepository) GetByUser(ctx context.Context, userID string) ([]*domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var bookings []*domain.Booking
	for _, b := range r.bookings {
		if b.UserID == userID {
			bookings = append(bookings, copyBooking(b))
		}
	}
	sort.Slice(bookings, func(i, j int) bool {
		return bookings[i].CreatedAt.After(bookings[j].CreatedAt)
	})
	return bookings, nil
}

func (r *MemoryBookingRepository) Transition(ctx context.Context, id int64, target domain.BookingStatus, outboxFn OutboxFn) (*domain.Booking, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok {
		return nil, false, domain.ErrBookingNotFound
	}
	if b.Status != domain.BookingStatusPending {
		return copyBooking(b), false, nil
	}

	b.Status = target
	if target == domain.BookingStatusConfirmed {
		now := time.Now()
		b.ConfirmedAt = &now
	}

	updated := copyBooking(b)
	if outboxFn != nil {
		msg, err := outboxFn(updated)
		if err != nil {
			return nil, false, err
		}
		r.recordOutbox(msg)
	}
	return updated, true, nil
}

func (r *MemoryBookingRepository) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]*domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []*domain.Booking
	for _, b := range r.bookings {
		if b.Status == domain.BookingStatusPending && now.After(b.ExpiresAt) {
			expired = append(expired, copyBooking(b))
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
	})
	if len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

func (r *MemoryBookingRepository) recordOutbox(msg *domain.OutboxMessage) {
	if r.outbox != nil {
		r.outbox.add(msg)
	}
}

var _ BookingRepository = (*MemoryBookingRepository)(nil)
