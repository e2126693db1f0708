package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ticketblitz/ticketing/internal/logger"
)

// DefaultSweepInterval is the expiry sweep cadence when none is configured
const DefaultSweepInterval = 60 * time.Second

// Sweeper is the saga surface the expiry worker needs
type Sweeper interface {
	ExpireSweep(ctx context.Context) (int, error)
}

// ExpiryWorker periodically expires PENDING bookings whose payment result
// never arrived
type ExpiryWorker struct {
	sweeper  Sweeper
	interval time.Duration
	logger   *logger.Logger

	wg      sync.WaitGroup
	stopCh  chan struct{}
	mu      sync.RWMutex
	running bool
}

// NewExpiryWorker creates an expiry worker. interval of zero uses
// DefaultSweepInterval.
func NewExpiryWorker(sweeper Sweeper, interval time.Duration) *ExpiryWorker {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &ExpiryWorker{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger.Get(),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop
func (w *ExpiryWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("expiry worker is already running")
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("starting expiry worker", zap.Duration("interval", w.interval))

	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

func (w *ExpiryWorker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if _, err := w.sweeper.ExpireSweep(ctx); err != nil {
				w.logger.Error("expiry sweep failed", zap.Error(err))
			}
		}
	}
}

// Stop signals shutdown and waits for the loop to exit
func (w *ExpiryWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.logger.Info("stopping expiry worker")
	close(w.stopCh)
	w.wg.Wait()
}

// IsRunning reports whether the worker has been started and not stopped
func (w *ExpiryWorker) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}
