package booking

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
	"github.com/ticketblitz/ticketing/internal/retry"
)

// PaymentResultConsumer consumes payment.success and payment.failed and
// advances the saga. Records are handled in order, one at a time; the
// partition key guarantees all events of one booking arrive on the same
// partition.
//
// A payment result can arrive before the booking row is visible on a read
// replica, so booking-not-found is retried with backoff. A record that still
// fails after the retry budget is parked on the dead-letter topic and its
// offset committed, keeping one poisoned booking from stalling the partition.
type PaymentResultConsumer struct {
	consumer *kafka.Consumer
	saga     *Saga
	retrier  *retry.Retrier
	dlq      retry.DLQPublisher
	config   *PaymentResultConsumerConfig
	logger   *logger.Logger

	wg      sync.WaitGroup
	stopCh  chan struct{}
	mu      sync.RWMutex
	running bool
}

// PaymentResultConsumerConfig contains configuration for the consumer
type PaymentResultConsumerConfig struct {
	Brokers       []string
	GroupID       string
	MaxRetries    int
	RetryInterval time.Duration

	// DLQAfter is the total number of handling attempts before a record is
	// moved to the dead-letter topic
	DLQAfter int
}

// DefaultPaymentResultConsumerConfig returns default configuration
func DefaultPaymentResultConsumerConfig() *PaymentResultConsumerConfig {
	return &PaymentResultConsumerConfig{
		Brokers:       []string{"localhost:9092"},
		GroupID:       "booking-saga",
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
		DLQAfter:      10,
	}
}

// NewPaymentResultConsumer creates the consumer. dlq may be a
// retry.NoOpDLQPublisher when no dead-letter topic is wanted.
func NewPaymentResultConsumer(ctx context.Context, cfg *PaymentResultConsumerConfig, saga *Saga, dlq retry.DLQPublisher) (*PaymentResultConsumer, error) {
	if cfg == nil {
		cfg = DefaultPaymentResultConsumerConfig()
	}
	if cfg.DLQAfter <= 0 {
		cfg.DLQAfter = 10
	}
	if dlq == nil {
		dlq = retry.NewNoOpDLQPublisher()
	}

	consumer, err := kafka.NewConsumer(ctx, &kafka.ConsumerConfig{
		Brokers:       cfg.Brokers,
		GroupID:       cfg.GroupID,
		Topics:        []string{events.TopicPaymentSuccess, events.TopicPaymentFailed},
		ClientID:      "booking-saga-consumer",
		MaxRetries:    cfg.MaxRetries,
		RetryInterval: cfg.RetryInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	retrier := retry.New(&retry.Config{
		MaxRetries:      cfg.DLQAfter - 1,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
		JitterFactor:    0.1,
	})

	return &PaymentResultConsumer{
		consumer: consumer,
		saga:     saga,
		retrier:  retrier,
		dlq:      dlq,
		config:   cfg,
		logger:   logger.Get(),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start launches the consume loop
func (c *PaymentResultConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("consumer is already running")
	}
	c.running = true
	c.mu.Unlock()

	c.logger.Info("starting payment result consumer", zap.String("group", c.config.GroupID))

	c.wg.Add(1)
	go c.run(ctx)
	return nil
}

func (c *PaymentResultConsumer) run(ctx context.Context) {
	defer c.wg.Done()

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
				if err := c.processRecord(ctx, record); err != nil {
					c.logger.Error("failed to process payment result",
						zap.String("topic", record.Topic),
						zap.Int64("offset", record.Offset),
						zap.Error(err))
				}
			}
		}
	}
}

// processRecord handles one payment result. Malformed payloads are committed
// and skipped. A record that exhausts the retry budget goes to the DLQ and
// is committed; only commit failures leave the offset for redelivery.
func (c *PaymentResultConsumer) processRecord(ctx context.Context, record *kafka.Record) error {
	var event events.PaymentResult
	if err := json.Unmarshal(record.Value, &event); err != nil {
		c.logger.Error("failed to unmarshal payment result, skipping",
			zap.String("topic", record.Topic),
			zap.Int64("offset", record.Offset),
			zap.Error(err))
		return c.consumer.CommitRecords(ctx, []*kafka.Record{record})
	}

	result := c.retrier.DoWithCallback(ctx,
		func(ctx context.Context) error {
			return c.dispatch(ctx, record.Topic, &event)
		},
		func(attempt int, err error, next time.Duration) {
			c.logger.Warn("retrying payment result",
				zap.Int64("booking_id", event.BookingID),
				zap.Int("attempt", attempt),
				zap.Duration("next_interval", next),
				zap.Error(err))
		})

	if result.Err != nil {
		if result.Err == retry.ErrContextCanceled {
			return result.Err
		}
		if err := c.park(ctx, record, result); err != nil {
			return fmt.Errorf("publish to DLQ: %w", err)
		}
	}

	return c.consumer.CommitRecords(ctx, []*kafka.Record{record})
}

func (c *PaymentResultConsumer) dispatch(ctx context.Context, topic string, event *events.PaymentResult) error {
	switch topic {
	case events.TopicPaymentSuccess:
		return c.saga.OnPaymentSuccess(ctx, event.BookingID)
	case events.TopicPaymentFailed:
		return c.saga.OnPaymentFailed(ctx, event.BookingID, event.FailureReason)
	default:
		return retry.Permanent(fmt.Errorf("unexpected topic %s", topic))
	}
}

func (c *PaymentResultConsumer) park(ctx context.Context, record *kafka.Record, result *retry.Result) error {
	errText := result.Err.Error()
	if result.LastError != nil {
		errText = result.LastError.Error()
	}

	c.logger.Error("moving payment result to DLQ",
		zap.String("topic", record.Topic),
		zap.Int64("offset", record.Offset),
		zap.Int("attempts", result.Attempts),
		zap.String("error", errText))

	return c.dlq.PublishToDLQ(ctx, &retry.DLQMessage{
		OriginalTopic:  record.Topic,
		OriginalKey:    string(record.Key),
		Payload:        record.Value,
		Headers:        record.Headers,
		Error:          errText,
		Attempts:       result.Attempts,
		FirstAttemptAt: record.Timestamp,
		LastAttemptAt:  time.Now(),
	})
}

// Stop signals shutdown and waits for the in-flight record to finish
func (c *PaymentResultConsumer) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	c.logger.Info("stopping payment result consumer")
	close(c.stopCh)
	c.wg.Wait()
	c.consumer.Close()
	return nil
}

// IsRunning reports whether the consumer has been started and not stopped
func (c *PaymentResultConsumer) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}
