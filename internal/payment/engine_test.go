package payment

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticketblitz/ticketing/internal/domain"
	"github.com/ticketblitz/ticketing/internal/events"
	"github.com/ticketblitz/ticketing/internal/gateway"
	"github.com/ticketblitz/ticketing/internal/repository"
)

// scriptedGateway lets each test decide the charge outcome and count calls
type scriptedGateway struct {
	mu     sync.Mutex
	calls  int
	charge func(ctx context.Context, req *gateway.ChargeRequest) (*gateway.ChargeResponse, error)
}

func (g *scriptedGateway) Charge(ctx context.Context, req *gateway.ChargeRequest) (*gateway.ChargeResponse, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return g.charge(ctx, req)
}

func (g *scriptedGateway) Name() string { return "scripted" }

func (g *scriptedGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func approvingGateway() *scriptedGateway {
	return &scriptedGateway{
		charge: func(ctx context.Context, req *gateway.ChargeRequest) (*gateway.ChargeResponse, error) {
			return &gateway.ChargeResponse{Success: true, GatewayReference: "gw_ref_1"}, nil
		},
	}
}

func decliningGateway(reason string) *scriptedGateway {
	return &scriptedGateway{
		charge: func(ctx context.Context, req *gateway.ChargeRequest) (*gateway.ChargeResponse, error) {
			return &gateway.ChargeResponse{Success: false, FailureReason: reason}, nil
		},
	}
}

func newTestEngine(gw gateway.PaymentGateway) (*Engine, *repository.MemoryTransactionRepository, *repository.MemoryOutboxRepository) {
	outbox := repository.NewMemoryOutboxRepository()
	repo := repository.NewMemoryTransactionRepository(outbox)
	return NewEngine(repo, gw, time.Second), repo, outbox
}

func TestEngine_Process_Success(t *testing.T) {
	gw := approvingGateway()
	engine, _, outbox := newTestEngine(gw)

	tx, err := engine.Process(context.Background(), 42, "user-1", 250.0)
	require.NoError(t, err)

	assert.Equal(t, domain.TransactionStatusSuccess, tx.Status)
	assert.Equal(t, "gw_ref_1", tx.GatewayReference)
	assert.Equal(t, domain.IdempotencyKey(42, "user-1"), tx.IdempotencyKey)
	assert.Equal(t, 1, gw.callCount())

	msgs := outbox.MessagesByTopic(events.TopicPaymentSuccess)
	require.Len(t, msgs, 1)
	assert.Equal(t, "42", msgs[0].PartitionKey)

	var event events.PaymentResult
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &event))
	assert.Equal(t, int64(42), event.BookingID)
	assert.Equal(t, tx.ID, event.TransactionID)
	assert.Equal(t, "gw_ref_1", event.GatewayReference)
}

func TestEngine_Process_Decline(t *testing.T) {
	gw := decliningGateway("insufficient funds")
	engine, _, outbox := newTestEngine(gw)

	tx, err := engine.Process(context.Background(), 7, "user-1", 99.0)
	require.NoError(t, err)

	assert.Equal(t, domain.TransactionStatusFailed, tx.Status)
	assert.Equal(t, "insufficient funds", tx.FailureReason)
	assert.Empty(t, tx.GatewayReference)

	msgs := outbox.MessagesByTopic(events.TopicPaymentFailed)
	require.Len(t, msgs, 1)

	var event events.PaymentResult
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &event))
	assert.Equal(t, "insufficient funds", event.FailureReason)
}

func TestEngine_Process_ReplayDoesNotChargeTwice(t *testing.T) {
	gw := approvingGateway()
	engine, _, outbox := newTestEngine(gw)

	first, err := engine.Process(context.Background(), 42, "user-1", 250.0)
	require.NoError(t, err)

	second, err := engine.Process(context.Background(), 42, "user-1", 250.0)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, 1, gw.callCount(), "replay must not reach the gateway")
	assert.Len(t, outbox.MessagesByTopic(events.TopicPaymentSuccess), 1)
}

// racingTransactionRepository simulates a concurrent worker inserting the same
// idempotency key between this worker's lookup and insert
type racingTransactionRepository struct {
	*repository.MemoryTransactionRepository
	winner   *domain.Transaction
	raceOnce sync.Once
}

func (r *racingTransactionRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	missed := false
	r.raceOnce.Do(func() { missed = true })
	if missed {
		return nil, domain.ErrTransactionNotFound
	}
	return r.MemoryTransactionRepository.GetByIdempotencyKey(ctx, key)
}

func (r *racingTransactionRepository) Create(ctx context.Context, t *domain.Transaction) error {
	if err := r.MemoryTransactionRepository.Create(ctx, r.winner); err == nil {
		return domain.ErrDuplicateKey
	}
	return r.MemoryTransactionRepository.Create(ctx, t)
}

func TestEngine_Process_InsertRaceLoserRereads(t *testing.T) {
	gw := approvingGateway()
	outbox := repository.NewMemoryOutboxRepository()

	winner := domain.NewTransaction(42, "user-1", 250.0, "USD")
	winner.MarkSuccess("gw_winner_ref")

	repo := &racingTransactionRepository{
		MemoryTransactionRepository: repository.NewMemoryTransactionRepository(outbox),
		winner:                      winner,
	}
	engine := NewEngine(repo, gw, time.Second)

	tx, err := engine.Process(context.Background(), 42, "user-1", 250.0)
	require.NoError(t, err)

	assert.Equal(t, winner.ID, tx.ID)
	assert.Equal(t, "gw_winner_ref", tx.GatewayReference)
	assert.Equal(t, 0, gw.callCount(), "race loser must not charge")
}

func TestEngine_Process_GatewayTimeout(t *testing.T) {
	gw := &scriptedGateway{
		charge: func(ctx context.Context, req *gateway.ChargeRequest) (*gateway.ChargeResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	outbox := repository.NewMemoryOutboxRepository()
	repo := repository.NewMemoryTransactionRepository(outbox)
	engine := NewEngine(repo, gw, 20*time.Millisecond)

	tx, err := engine.Process(context.Background(), 42, "user-1", 250.0)
	require.NoError(t, err)

	// The charge outcome is unknown, so the row stays PENDING and no
	// result event is emitted until the stale sweeper settles it
	assert.Equal(t, domain.TransactionStatusPending, tx.Status)
	assert.Empty(t, outbox.MessagesByTopic(events.TopicPaymentFailed))

	resolved, err := engine.ResolveStale(context.Background(), 0, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	got, err := repo.GetByID(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusFailed, got.Status)
	assert.Equal(t, "payment attempt abandoned", got.FailureReason)
	assert.Len(t, outbox.MessagesByTopic(events.TopicPaymentFailed), 1)
}

func TestEngine_ResolveStale(t *testing.T) {
	engine, repo, outbox := newTestEngine(approvingGateway())

	stale := domain.NewTransaction(42, "user-1", 250.0, "USD")
	stale.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, repo.Create(context.Background(), stale))

	fresh := domain.NewTransaction(43, "user-2", 100.0, "USD")
	require.NoError(t, repo.Create(context.Background(), fresh))

	resolved, err := engine.ResolveStale(context.Background(), 10*time.Minute, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	got, err := repo.GetByID(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusFailed, got.Status)

	untouched, err := repo.GetByID(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPending, untouched.Status)

	assert.Len(t, outbox.MessagesByTopic(events.TopicPaymentFailed), 1)
}

func TestEngine_Getters(t *testing.T) {
	engine, _, _ := newTestEngine(approvingGateway())

	tx, err := engine.Process(context.Background(), 42, "user-1", 250.0)
	require.NoError(t, err)

	byID, err := engine.GetTransaction(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, byID.ID)

	byBooking, err := engine.GetTransactionsByBooking(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, byBooking, 1)

	byUser, err := engine.GetTransactionsByUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, byUser, 1)

	_, err = engine.GetTransaction(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}
