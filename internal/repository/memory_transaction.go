package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ticketblitz/ticketing/internal/domain"
)

// MemoryTransactionRepository is an in-memory TransactionRepository for tests
type MemoryTransactionRepository struct {
	mu           sync.Mutex
	transactions map[string]*domain.Transaction // by ID
	byKey        map[string]string              // idempotency key -> ID
	outbox       *MemoryOutboxRepository
}

// NewMemoryTransactionRepository creates an empty repository
func NewMemoryTransactionRepository(outbox *MemoryOutboxRepository) *MemoryTransactionRepository {
	return &MemoryTransactionRepository{
		transactions: make(map[string]*domain.Transaction),
		byKey:        make(map[string]string),
		outbox:       outbox,
	}
}

func copyTransaction(t *domain.Transaction) *domain.Transaction {
	c := *t
	return &c
}

func (r *MemoryTransactionRepository) Create(ctx context.Context, t *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byKey[t.IdempotencyKey]; exists {
		return domain.ErrDuplicateKey
	}
	r.transactions[t.ID] = copyTransaction(t)
	r.byKey[t.IdempotencyKey] = t.ID
	return nil
}

func (r *MemoryTransactionRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byKey[key]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return copyTransaction(r.transactions[id]), nil
}

func (r *MemoryTransactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.transactions[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return copyTransaction(t), nil
}

func (r *MemoryTransactionRepository) GetByBooking(ctx context.Context, bookingID int64) ([]*domain.Transaction, error) {
	return r.filter(func(t *domain.Transaction) bool { return t.BookingID == bookingID })
}

func (r *MemoryTransactionRepository) GetByUser(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	return r.filter(func(t *domain.Transaction) bool { return t.UserID == userID })
}

func (r *MemoryTransactionRepository) filter(match func(*domain.Transaction) bool) ([]*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.Transaction
	for _, t := range r.transactions {
		if match(t) {
			out = append(out, copyTransaction(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryTransactionRepository) Finalize(ctx context.Context, t *domain.Transaction, outbox *domain.OutboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.transactions[t.ID]; !ok {
		return domain.ErrTransactionNotFound
	}
	r.transactions[t.ID] = copyTransaction(t)

	if outbox != nil && r.outbox != nil {
		r.outbox.add(outbox)
	}
	return nil
}

func (r *MemoryTransactionRepository) FindStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []*domain.Transaction
	for _, t := range r.transactions {
		if t.Status == domain.TransactionStatusPending && t.CreatedAt.Before(cutoff) {
			stale = append(stale, copyTransaction(t))
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].CreatedAt.Before(stale[j].CreatedAt)
	})
	if len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

var _ TransactionRepository = (*MemoryTransactionRepository)(nil)
