package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ticketblitz/ticketing/internal/domain"
	"github.com/ticketblitz/ticketing/internal/logger"
	"github.com/ticketblitz/ticketing/internal/repository"
)

// Publisher is the producer surface the outbox worker needs
type Publisher interface {
	ProduceJSON(ctx context.Context, topic string, key string, data interface{}, headers map[string]string) error
}

// OutboxWorkerConfig contains configuration for the outbox worker
type OutboxWorkerConfig struct {
	// PollInterval is how often the worker drains the outbox table
	PollInterval time.Duration
	// BatchSize caps the rows claimed per drain
	BatchSize int
	// CleanupInterval is how often published rows are purged; zero disables cleanup
	CleanupInterval time.Duration
	// Retention is how long published rows are kept before purging
	Retention time.Duration
}

// DefaultOutboxWorkerConfig returns default configuration
func DefaultOutboxWorkerConfig() *OutboxWorkerConfig {
	return &OutboxWorkerConfig{
		PollInterval:    time.Second,
		BatchSize:       100,
		CleanupInterval: time.Hour,
		Retention:       24 * time.Hour,
	}
}

// OutboxWorker drains the outbox table onto the bus. Multiple instances can
// run concurrently; row claiming in the repository keeps them from
// double-publishing.
type OutboxWorker struct {
	outbox    repository.OutboxRepository
	publisher Publisher
	config    *OutboxWorkerConfig
	logger    *logger.Logger

	wg      sync.WaitGroup
	stopCh  chan struct{}
	mu      sync.RWMutex
	running bool
}

// NewOutboxWorker creates an outbox worker
func NewOutboxWorker(outbox repository.OutboxRepository, publisher Publisher, cfg *OutboxWorkerConfig) *OutboxWorker {
	if cfg == nil {
		cfg = DefaultOutboxWorkerConfig()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &OutboxWorker{
		outbox:    outbox,
		publisher: publisher,
		config:    cfg,
		logger:    logger.Get(),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the drain loop
func (w *OutboxWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("outbox worker is already running")
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("starting outbox worker",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Int("batch_size", w.config.BatchSize))

	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

func (w *OutboxWorker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	var cleanupCh <-chan time.Time
	if w.config.CleanupInterval > 0 {
		cleanup := time.NewTicker(w.config.CleanupInterval)
		defer cleanup.Stop()
		cleanupCh = cleanup.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if _, err := w.DrainOnce(ctx); err != nil {
				w.logger.Error("outbox drain failed", zap.Error(err))
			}
		case <-cleanupCh:
			deleted, err := w.outbox.DeletePublished(ctx, time.Now().Add(-w.config.Retention))
			if err != nil {
				w.logger.Error("outbox cleanup failed", zap.Error(err))
				continue
			}
			if deleted > 0 {
				w.logger.Info("purged published outbox rows", zap.Int64("deleted", deleted))
			}
		}
	}
}

// DrainOnce runs a single drain pass and returns the number of messages
// published
func (w *OutboxWorker) DrainOnce(ctx context.Context) (int, error) {
	published, err := w.outbox.Drain(ctx, w.config.BatchSize, w.publish)
	if err != nil {
		return 0, err
	}
	if published > 0 {
		w.logger.Info("published outbox messages", zap.Int("count", published))
	}
	return published, nil
}

func (w *OutboxWorker) publish(ctx context.Context, msg *domain.OutboxMessage) error {
	headers := map[string]string{
		"event_type":     msg.EventType,
		"aggregate_type": msg.AggregateType,
		"aggregate_id":   msg.AggregateID,
	}
	// The payload is already serialized; RawMessage keeps the bytes as-is
	return w.publisher.ProduceJSON(ctx, msg.Topic, msg.PartitionKey, json.RawMessage(msg.Payload), headers)
}

// Stop signals shutdown and waits for the loop to exit
func (w *OutboxWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.logger.Info("stopping outbox worker")
	close(w.stopCh)
	w.wg.Wait()
}

// IsRunning reports whether the worker has been started and not stopped
func (w *OutboxWorker) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}
