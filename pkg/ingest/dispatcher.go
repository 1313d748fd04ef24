package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/marmos91/headerprop/internal/logger"
	"github.com/marmos91/headerprop/pkg/propagate"
)

// BatchHandler processes one batch of notifications.
type BatchHandler interface {
	HandleBatch(ctx context.Context, batch []propagate.Notification) error
}

// Metrics receives dispatcher events for monitoring.
type Metrics interface {
	// ObserveBatch records a finished batch: "success", "retry" or "failed".
	ObserveBatch(status string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveBatch(string) {}

// DispatcherConfig contains configuration for a Dispatcher.
type DispatcherConfig struct {
	Handler BatchHandler

	// MaxAttempts is the number of times a batch is tried (default: 1)
	MaxAttempts int

	// RetryBackoff is the delay before the first retry; it doubles per retry
	RetryBackoff time.Duration

	// Metrics receives batch outcomes (optional)
	Metrics Metrics
}

// Dispatcher runs batches in the background so the trigger endpoint can
// acknowledge immediately. Failed batches are retried with exponential
// backoff, which gives at-least-once processing within the process lifetime.
type Dispatcher struct {
	handler     BatchHandler
	maxAttempts int
	retryDelay  time.Duration
	metrics     Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	m := cfg.Metrics
	if m == nil {
		m = noopMetrics{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		handler:     cfg.Handler,
		maxAttempts: attempts,
		retryDelay:  cfg.RetryBackoff,
		metrics:     m,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Submit schedules batch for background processing.
func (d *Dispatcher) Submit(batch []propagate.Notification) {
	if len(batch) == 0 {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(batch)
	}()
}

func (d *Dispatcher) run(batch []propagate.Notification) {
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		return d.handler.HandleBatch(d.ctx, batch)
	}, d.retryPolicy(), func(err error, delay time.Duration) {
		logger.Warn("Batch of %d notifications failed (attempt %d/%d), retrying in %s: %v",
			len(batch), attempt, d.maxAttempts, delay, err)
		d.metrics.ObserveBatch("retry")
	})

	switch {
	case err == nil:
		d.metrics.ObserveBatch("success")
	case d.ctx.Err() != nil:
		logger.Error("Batch of %d notifications abandoned on shutdown after %d attempts: %v", len(batch), attempt, err)
		d.metrics.ObserveBatch("failed")
	default:
		logger.Error("Batch of %d notifications failed after %d attempts: %v", len(batch), attempt, err)
		d.metrics.ObserveBatch("failed")
	}
}

// retryPolicy doubles the delay after every failed attempt, starting at the
// configured backoff, and stops after maxAttempts tries or on shutdown.
func (d *Dispatcher) retryPolicy() backoff.BackOff {
	if d.maxAttempts <= 1 {
		return backoff.WithContext(&backoff.StopBackOff{}, d.ctx)
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = d.retryDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	if exp.MaxInterval < d.retryDelay {
		exp.MaxInterval = d.retryDelay
	}

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(d.maxAttempts-1)), d.ctx)
}

// Shutdown waits for in-flight batches to finish. When ctx expires first,
// running batches are cancelled and ctx's error is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
