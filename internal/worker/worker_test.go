package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticketblitz/ticketing/internal/domain"
	"github.com/ticketblitz/ticketing/internal/repository"
)

type capturedMessage struct {
	Topic   string
	Key     string
	Payload []byte
	Headers map[string]string
}

type capturingPublisher struct {
	mu       sync.Mutex
	messages []capturedMessage
	err      error
}

func (p *capturingPublisher) ProduceJSON(ctx context.Context, topic, key string, data interface{}, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	p.messages = append(p.messages, capturedMessage{Topic: topic, Key: key, Payload: payload, Headers: headers})
	return nil
}

func (p *capturingPublisher) captured() []capturedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]capturedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

func newOutboxMessage(t *testing.T, topic, key string) *domain.OutboxMessage {
	t.Helper()
	msg, err := domain.NewOutboxMessage("booking", key, topic, topic, map[string]string{"hello": "world"})
	require.NoError(t, err)
	return msg
}

func TestOutboxWorker_DrainOnce(t *testing.T) {
	outbox := repository.NewMemoryOutboxRepository()
	require.NoError(t, outbox.Create(context.Background(), newOutboxMessage(t, "booking.created", "1")))
	require.NoError(t, outbox.Create(context.Background(), newOutboxMessage(t, "payment.success", "2")))

	publisher := &capturingPublisher{}
	w := NewOutboxWorker(outbox, publisher, nil)

	published, err := w.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, published)

	msgs := publisher.captured()
	require.Len(t, msgs, 2)
	assert.Equal(t, "booking.created", msgs[0].Topic)
	assert.Equal(t, "1", msgs[0].Key)
	assert.JSONEq(t, `{"hello":"world"}`, string(msgs[0].Payload), "payload bytes pass through unchanged")
	assert.Equal(t, "booking", msgs[0].Headers["aggregate_type"])

	// A second drain finds nothing new
	published, err = w.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, published)
}

func TestOutboxWorker_PublishFailureRetriedNextDrain(t *testing.T) {
	outbox := repository.NewMemoryOutboxRepository()
	require.NoError(t, outbox.Create(context.Background(), newOutboxMessage(t, "booking.created", "1")))

	publisher := &capturingPublisher{err: errors.New("broker down")}
	w := NewOutboxWorker(outbox, publisher, nil)

	published, err := w.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, published)

	publisher.mu.Lock()
	publisher.err = nil
	publisher.mu.Unlock()

	published, err = w.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, published)
}

func TestOutboxWorker_Loop(t *testing.T) {
	outbox := repository.NewMemoryOutboxRepository()
	require.NoError(t, outbox.Create(context.Background(), newOutboxMessage(t, "booking.created", "1")))

	publisher := &capturingPublisher{}
	w := NewOutboxWorker(outbox, publisher, &OutboxWorkerConfig{
		PollInterval: 5 * time.Millisecond,
		BatchSize:    10,
	})

	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()), "double start is rejected")

	require.Eventually(t, func() bool {
		return len(publisher.captured()) == 1
	}, time.Second, 5*time.Millisecond)

	w.Stop()
	assert.False(t, w.IsRunning())
	w.Stop() // idempotent
}

type countingSweeper struct {
	mu    sync.Mutex
	calls int
}

func (s *countingSweeper) ExpireSweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return 0, nil
}

func (s *countingSweeper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestExpiryWorker_Loop(t *testing.T) {
	sweeper := &countingSweeper{}
	w := NewExpiryWorker(sweeper, 5*time.Millisecond)

	require.NoError(t, w.Start(context.Background()))
	require.Eventually(t, func() bool {
		return sweeper.count() >= 2
	}, time.Second, 5*time.Millisecond)

	w.Stop()
	assert.False(t, w.IsRunning())
}
