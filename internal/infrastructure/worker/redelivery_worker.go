package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Redeliverer publishes completions left in the outbox
type Redeliverer interface {
	RedeliverPending(ctx context.Context, limit int) (int, error)
}

// RedeliveryConfig holds configuration for the redelivery worker
type RedeliveryConfig struct {
	Interval  time.Duration
	BatchSize int
}

// DefaultRedeliveryConfig returns default configuration
func DefaultRedeliveryConfig() RedeliveryConfig {
	return RedeliveryConfig{
		Interval:  30 * time.Second,
		BatchSize: 100,
	}
}

// RedeliveryWorker periodically retries completions whose publish failed after commit
type RedeliveryWorker struct {
	config      RedeliveryConfig
	redeliverer Redeliverer
	logger      *zap.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	delivered int
	failures  int
	lastError error
}

// NewRedeliveryWorker creates a new redelivery worker
func NewRedeliveryWorker(config RedeliveryConfig, redeliverer Redeliverer, logger *zap.Logger) *RedeliveryWorker {
	defaults := DefaultRedeliveryConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedeliveryWorker{
		config:      config,
		redeliverer: redeliverer,
		logger:      logger,
	}
}

// Name returns the worker name for identification
func (w *RedeliveryWorker) Name() string {
	return "RedeliveryWorker"
}

// Start begins the polling loop
func (w *RedeliveryWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return fmt.Errorf("redelivery worker already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	w.logger.Info("RedeliveryWorker started",
		zap.Duration("interval", w.config.Interval),
		zap.Int("batch_size", w.config.BatchSize))

	go w.pollLoop(loopCtx, w.done)
	return nil
}

// Stop cancels the loop and waits for an in-flight pass to finish
func (w *RedeliveryWorker) Stop() error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	delivered, failures, _ := w.Stats()
	w.logger.Info("RedeliveryWorker stopped",
		zap.Int("delivered", delivered),
		zap.Int("failed_passes", failures))
	return nil
}

// Stats returns the completions delivered, failed passes and the last pass error
func (w *RedeliveryWorker) Stats() (delivered, failures int, lastError error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.delivered, w.failures, w.lastError
}

func (w *RedeliveryWorker) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *RedeliveryWorker) runOnce(ctx context.Context) {
	n, err := w.redeliverer.RedeliverPending(ctx, w.config.BatchSize)

	w.mu.Lock()
	w.delivered += n
	if err != nil && ctx.Err() == nil {
		w.failures++
		w.lastError = err
	}
	w.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		w.logger.Error("Redelivery pass failed", zap.Error(err))
	} else if n > 0 {
		w.logger.Info("Redelivered completions", zap.Int("count", n))
	}
}
