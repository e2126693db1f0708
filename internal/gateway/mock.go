package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// failureReasons is the closed set of decline reasons the mock produces
var failureReasons = []string{
	"insufficient funds",
	"card declined",
	"invalid card number",
	"card expired",
	"transaction limit exceeded",
}

// MockGatewayConfig holds configuration for the mock gateway
type MockGatewayConfig struct {
	// SuccessRate is the probability of a captured charge (0.0 to 1.0)
	SuccessRate float64
	// MinLatency and MaxLatency bound the simulated processing delay
	MinLatency time.Duration
	MaxLatency time.Duration
}

// DefaultMockGatewayConfig returns the default 90/10 profile with 1-2s latency
func DefaultMockGatewayConfig() *MockGatewayConfig {
	return &MockGatewayConfig{
		SuccessRate: 0.9,
		MinLatency:  1 * time.Second,
		MaxLatency:  2 * time.Second,
	}
}

// MockGateway is a stochastic PaymentGateway for development and load
// testing. Outcomes are random; the latency window models a real acquirer.
type MockGateway struct {
	mu     sync.RWMutex
	config *MockGatewayConfig
}

// NewMockGateway creates a mock gateway
func NewMockGateway(config *MockGatewayConfig) *MockGateway {
	if config == nil {
		config = DefaultMockGatewayConfig()
	}
	if config.SuccessRate < 0 {
		config.SuccessRate = 0
	}
	if config.SuccessRate > 1 {
		config.SuccessRate = 1
	}
	if config.MaxLatency < config.MinLatency {
		config.MaxLatency = config.MinLatency
	}
	return &MockGateway{config: config}
}

// Charge simulates a charge. Respects the context deadline during the
// simulated latency, so a gateway timeout surfaces as ctx.Err().
func (g *MockGateway) Charge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("charge request is required")
	}

	g.mu.RLock()
	cfg := *g.config
	g.mu.RUnlock()

	if delay := g.latency(&cfg); delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if rand.Float64() < cfg.SuccessRate {
		return &ChargeResponse{
			Success:          true,
			GatewayReference: fmt.Sprintf("mock_txn_%s", uuid.New().String()[:8]),
		}, nil
	}

	return &ChargeResponse{
		Success:       false,
		FailureReason: failureReasons[rand.Intn(len(failureReasons))],
	}, nil
}

func (g *MockGateway) latency(cfg *MockGatewayConfig) time.Duration {
	if cfg.MaxLatency <= 0 {
		return 0
	}
	spread := cfg.MaxLatency - cfg.MinLatency
	if spread <= 0 {
		return cfg.MinLatency
	}
	return cfg.MinLatency + time.Duration(rand.Int63n(int64(spread)))
}

// Name returns the gateway name
func (g *MockGateway) Name() string {
	return "mock"
}

// SetSuccessRate updates the success rate, for tests that need a
// deterministic outcome
func (g *MockGateway) SetSuccessRate(rate float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	g.config.SuccessRate = rate
}

var _ PaymentGateway = (*MockGateway)(nil)
