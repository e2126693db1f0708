package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ticketblitz/ticketing/internal/domain"
)

// MemoryOutboxRepository is an in-memory OutboxRepository for tests
type MemoryOutboxRepository struct {
	mu       sync.Mutex
	messages []*domain.OutboxMessage
}

// NewMemoryOutboxRepository creates an empty repository
func NewMemoryOutboxRepository() *MemoryOutboxRepository {
	return &MemoryOutboxRepository{}
}

// add records a message; shared with the memory booking and transaction
// repositories to imitate the same-transaction outbox insert
func (r *MemoryOutboxRepository) add(msg *domain.OutboxMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	r.messages = append(r.messages, msg)
}

func (r *MemoryOutboxRepository) Create(ctx context.Context, msg *domain.OutboxMessage) error {
	r.add(msg)
	return nil
}

func (r *MemoryOutboxRepository) Drain(ctx context.Context, limit int, publish PublishFn) (int, error) {
	r.mu.Lock()
	var claimed []*domain.OutboxMessage
	for _, msg := range r.messages {
		if len(claimed) >= limit {
			break
		}
		if msg.Status == domain.OutboxStatusPending || msg.CanRetry() {
			claimed = append(claimed, msg)
		}
	}
	r.mu.Unlock()

	published := 0
	for _, msg := range claimed {
		if err := publish(ctx, msg); err != nil {
			r.mu.Lock()
			msg.MarkAsFailed(err.Error())
			r.mu.Unlock()
			continue
		}
		r.mu.Lock()
		msg.MarkAsPublished()
		r.mu.Unlock()
		published++
	}
	return published, nil
}

func (r *MemoryOutboxRepository) DeletePublished(ctx context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var kept []*domain.OutboxMessage
	var deleted int64
	for _, msg := range r.messages {
		if msg.Status == domain.OutboxStatusPublished && msg.PublishedAt != nil && msg.PublishedAt.Before(olderThan) {
			deleted++
			continue
		}
		kept = append(kept, msg)
	}
	r.messages = kept
	return deleted, nil
}

// Messages returns a snapshot of all recorded messages, oldest first
func (r *MemoryOutboxRepository) Messages() []*domain.OutboxMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*domain.OutboxMessage, len(r.messages))
	copy(out, r.messages)
	return out
}

// MessagesByTopic returns recorded messages for one topic
func (r *MemoryOutboxRepository) MessagesByTopic(topic string) []*domain.OutboxMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.OutboxMessage
	for _, msg := range r.messages {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

var _ OutboxRepository = (*MemoryOutboxRepository)(nil)
