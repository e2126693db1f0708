package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Message is a raw message to produce
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers  []string
	ClientID string

	// Publish retry configuration. The interval doubles per attempt up to
	// MaxRetryInterval.
	MaxRetries       int
	RetryInterval    time.Duration
	MaxRetryInterval time.Duration
}

// DefaultProducerConfig returns default configuration
func DefaultProducerConfig() *ProducerConfig {
	return &ProducerConfig{
		Brokers:          []string{"localhost:9092"},
		ClientID:         "ticketing",
		MaxRetries:       5,
		RetryInterval:    time.Second,
		MaxRetryInterval: 30 * time.Second,
	}
}

// Producer is a synchronous Kafka producer with bounded publish retries
type Producer struct {
	client *kgo.Client
	config *ProducerConfig
}

// NewProducer creates a Kafka producer and verifies broker connectivity
func NewProducer(ctx context.Context, cfg *ProducerConfig) (*Producer, error) {
	if cfg == nil {
		cfg = DefaultProducerConfig()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping kafka brokers: %w", err)
	}

	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultProducerConfig().RetryInterval
	}
	if cfg.MaxRetryInterval <= 0 {
		cfg.MaxRetryInterval = DefaultProducerConfig().MaxRetryInterval
	}

	return &Producer{client: client, config: cfg}, nil
}

// retryInterval returns the wait before retry attempt n (1-based): the base
// interval doubled per attempt, capped at MaxRetryInterval
func (p *Producer) retryInterval(attempt int) time.Duration {
	interval := p.config.RetryInterval
	for i := 1; i < attempt; i++ {
		interval *= 2
		if interval >= p.config.MaxRetryInterval {
			return p.config.MaxRetryInterval
		}
	}
	if interval > p.config.MaxRetryInterval {
		return p.config.MaxRetryInterval
	}
	return interval
}

// Produce synchronously produces a message, retrying on failure with
// exponential backoff up to MaxRetries.
func (p *Producer) Produce(ctx context.Context, msg *Message) error {
	record := &kgo.Record{
		Topic: msg.Topic,
		Key:   msg.Key,
		Value: msg.Value,
	}
	for k, v := range msg.Headers {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.retryInterval(attempt)):
			}
		}

		if lastErr = p.client.ProduceSync(ctx, record).FirstErr(); lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("failed to produce to %s after %d attempts: %w",
		msg.Topic, p.config.MaxRetries+1, lastErr)
}

// ProduceJSON marshals data as JSON and produces it with the given key.
// The key determines the partition, which gives per-key ordering.
func (p *Producer) ProduceJSON(ctx context.Context, topic string, key string, data interface{}, headers map[string]string) error {
	value, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal message for %s: %w", topic, err)
	}

	return p.Produce(ctx, &Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Headers: headers,
	})
}

// Close flushes pending messages and closes the client
func (p *Producer) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p.client.Flush(ctx)
	p.client.Close()
}
