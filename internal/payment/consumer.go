package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ticketblitz/ticketing/internal/events"
	"github.com/ticketblitz/ticketing/internal/kafka"
	"github.com/ticketblitz/ticketing/internal/logger"
)

// BookingConsumer consumes booking.created events and drives them through the
// payment engine. Payment results are not published here; the engine writes
// them to the outbox in the same transaction that finalizes the charge.
type BookingConsumer struct {
	consumer *kafka.Consumer
	engine   *Engine
	config   *BookingConsumerConfig
	logger   *logger.Logger

	wg      sync.WaitGroup
	stopCh  chan struct{}
	mu      sync.RWMutex
	running bool
}

// BookingConsumerConfig contains configuration for the booking consumer
type BookingConsumerConfig struct {
	Brokers        []string
	GroupID        string
	Topic          string
	WorkerCount    int
	ProcessTimeout time.Duration
	MaxRetries     int
	RetryInterval  time.Duration
}

// DefaultBookingConsumerConfig returns default configuration
func DefaultBookingConsumerConfig() *BookingConsumerConfig {
	return &BookingConsumerConfig{
		Brokers:        []string{"localhost:9092"},
		GroupID:        "payment-engine",
		Topic:          events.TopicBookingCreated,
		WorkerCount:    10,
		ProcessTimeout: 30 * time.Second,
		MaxRetries:     3,
		RetryInterval:  2 * time.Second,
	}
}

// NewBookingConsumer creates a booking consumer
func NewBookingConsumer(ctx context.Context, cfg *BookingConsumerConfig, engine *Engine) (*BookingConsumer, error) {
	if cfg == nil {
		cfg = DefaultBookingConsumerConfig()
	}

	consumer, err := kafka.NewConsumer(ctx, &kafka.ConsumerConfig{
		Brokers:       cfg.Brokers,
		GroupID:       cfg.GroupID,
		Topics:        []string{cfg.Topic},
		ClientID:      "payment-engine-consumer",
		MaxRetries:    cfg.MaxRetries,
		RetryInterval: cfg.RetryInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return &BookingConsumer{
		consumer: consumer,
		engine:   engine,
		config:   cfg,
		logger:   logger.Get(),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start launches the poll loop and workers
func (c *BookingConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("consumer is already running")
	}
	c.running = true
	c.mu.Unlock()

	c.logger.Info("starting booking consumer",
		zap.String("topic", c.config.Topic),
		zap.Int("workers", c.config.WorkerCount))

	recordsCh := make(chan *kafka.Record, c.config.WorkerCount*10)

	for i := 0; i < c.config.WorkerCount; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i, recordsCh)
	}

	c.wg.Add(1)
	go c.poll(ctx, recordsCh)

	return nil
}

func (c *BookingConsumer) poll(ctx context.Context, recordsCh chan<- *kafka.Record) {
	defer c.wg.Done()
	defer close(recordsCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
			records, err := c.consumer.Poll(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Error("failed to poll records", zap.Error(err))
				time.Sleep(time.Second)
				continue
			}

			for _, record := range records {
				select {
				case recordsCh <- record:
				case <-ctx.Done():
					return
				case <-c.stopCh:
					return
				}
			}
		}
	}
}

func (c *BookingConsumer) worker(ctx context.Context, id int, recordsCh <-chan *kafka.Record) {
	defer c.wg.Done()

	for record := range recordsCh {
		if err := c.processRecord(ctx, record); err != nil {
			c.logger.Error("failed to process record",
				zap.Int("worker", id),
				zap.Int64("offset", record.Offset),
				zap.Error(err))
		}
	}
}

// processRecord handles one booking.created record. Malformed payloads are
// committed and skipped; a processing failure leaves the offset uncommitted
// so the record is redelivered, and the idempotency key absorbs the replay.
func (c *BookingConsumer) processRecord(ctx context.Context, record *kafka.Record) error {
	var event events.BookingCreated
	if err := json.Unmarshal(record.Value, &event); err != nil {
		c.logger.Error("failed to unmarshal booking event, skipping",
			zap.Int64("offset", record.Offset),
			zap.Error(err))
		return c.consumer.CommitRecords(ctx, []*kafka.Record{record})
	}

	if event.EventType != events.TopicBookingCreated {
		c.logger.Info("skipping event type", zap.String("event_type", event.EventType))
		return c.consumer.CommitRecords(ctx, []*kafka.Record{record})
	}

	processCtx, cancel := context.WithTimeout(ctx, c.config.ProcessTimeout)
	defer cancel()

	tx, err := c.engine.Process(processCtx, event.BookingID, event.UserID, event.Amount)
	if err != nil {
		return fmt.Errorf("process booking %d: %w", event.BookingID, err)
	}

	c.logger.Info("booking payment processed",
		zap.Int64("booking_id", event.BookingID),
		zap.String("transaction_id", tx.ID),
		zap.String("status", tx.Status.String()))

	return c.consumer.CommitRecords(ctx, []*kafka.Record{record})
}

// Stop signals shutdown and waits for in-flight records to finish
func (c *BookingConsumer) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	c.logger.Info("stopping booking consumer")
	close(c.stopCh)
	c.wg.Wait()
	c.consumer.Close()
	return nil
}

// IsRunning reports whether the consumer has been started and not stopped
func (c *BookingConsumer) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}
