// Package gc provides garbage collection for abandoned leases.
//
// A copy leases its source object for the duration of the copy and releases
// it on the way out. If the process dies in between, an infinite lease stays
// behind and every later copy of that object reports a lease conflict. On
// stores whose leases are plain records (see object.LeaseSweeper) the
// collector periodically force-releases leases older than any copy can run.
package gc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/headerprop/internal/logger"
	"github.com/marmos91/headerprop/pkg/store/object"
)

// Collector performs periodic lease collection on one container.
//
// Thread Safety: Safe for concurrent use.
type Collector struct {
	store     object.LeaseSweeper
	container string
	config    Config

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Config contains configuration for the lease collector.
type Config struct {
	// Interval is how often to run collection (default: 1h)
	Interval time.Duration

	// MaxLeaseAge is the age past which a lease is considered abandoned
	// (default: 1h). It must exceed the longest possible copy.
	MaxLeaseAge time.Duration

	// BatchSize is how many leases to release per call (default: 1000)
	BatchSize int

	// DryRun mode logs what would be released without releasing it
	DryRun bool
}

// NewCollector creates a new lease collector for container.
//
// The collector is initialized but not running. Call Serve to run it
// periodically or RunNow for a single pass.
func NewCollector(store object.LeaseSweeper, container string, config Config) (*Collector, error) {
	if store == nil {
		return nil, fmt.Errorf("lease collector requires a store")
	}
	if container == "" {
		return nil, fmt.Errorf("lease collector requires a container")
	}

	// Set defaults
	if config.Interval == 0 {
		config.Interval = time.Hour
	}
	if config.MaxLeaseAge == 0 {
		config.MaxLeaseAge = time.Hour
	}
	if config.BatchSize == 0 {
		config.BatchSize = 1000
	}

	return &Collector{
		store:     store,
		container: container,
		config:    config,
		stopCh:    make(chan struct{}),
	}, nil
}

// Config returns the effective configuration, defaults included.
func (c *Collector) Config() Config {
	return c.config
}

// Name identifies the collector in logs.
func (c *Collector) Name() string {
	return "lease-gc"
}

// Serve runs collection every Interval until ctx is cancelled or Stop is
// called. A failed pass is logged and does not end the loop.
func (c *Collector) Serve(ctx context.Context) error {
	logger.Info("Starting lease collector: container=%s interval=%s max_lease_age=%s dry_run=%v",
		c.container, c.config.Interval, c.config.MaxLeaseAge, c.config.DryRun)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats, err := c.collect(ctx)
			if err != nil {
				logger.Error("Lease collection failed: %v", err)
			} else {
				logger.Info("Lease collection completed: %s", stats.Summary())
			}

		case <-c.stopCh:
			return nil

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop ends Serve. Safe to call multiple times.
func (c *Collector) Stop(context.Context) error {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	return nil
}

// RunNow performs one collection pass and blocks until it completes.
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	logger.Info("Running lease collection (manual trigger)...")
	return c.collect(ctx)
}

// collect performs a single pass:
//  1. List leases acquired before now - MaxLeaseAge
//  2. Force-release them in batches
func (c *Collector) collect(ctx context.Context) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}

	cutoff := stats.StartTime.Add(-c.config.MaxLeaseAge)
	stale, err := c.store.StaleLeases(ctx, c.container, cutoff)
	if err != nil {
		stats.EndTime = time.Now()
		return stats, fmt.Errorf("failed to list stale leases: %w", err)
	}
	stats.StaleCount = uint64(len(stale))

	if len(stale) == 0 {
		logger.Debug("GC: No stale leases found")
		stats.EndTime = time.Now()
		return stats, nil
	}

	logger.Warn("GC: Found %d lease(s) older than %s in %s",
		stats.StaleCount, c.config.MaxLeaseAge, c.container)

	if c.config.DryRun {
		logger.Info("GC: DRY RUN - Would release %d lease(s):", stats.StaleCount)
		for i, path := range stale {
			if i < 10 {
				logger.Info("  - %s", path)
			}
		}
		if len(stale) > 10 {
			logger.Info("  ... and %d more", len(stale)-10)
		}
		stats.EndTime = time.Now()
		return stats, nil
	}

	for i := 0; i < len(stale); i += c.config.BatchSize {
		if err := ctx.Err(); err != nil {
			stats.EndTime = time.Now()
			return stats, err
		}

		end := min(i+c.config.BatchSize, len(stale))
		batch := stale[i:end]

		failures, err := c.store.ForceReleaseLeases(ctx, c.container, batch)
		if err != nil {
			logger.Warn("GC: Batch release failed: %v", err)
			stats.FailedCount += uint64(len(batch))
			continue
		}

		stats.ReleasedCount += uint64(len(batch) - len(failures))
		stats.FailedCount += uint64(len(failures))

		for path, ferr := range failures {
			logger.Debug("GC: Failed to release lease on %s: %v", path, ferr)
		}
	}

	stats.EndTime = time.Now()

	logger.Info("GC: Completed - released %d lease(s), %d failed, duration=%s",
		stats.ReleasedCount, stats.FailedCount, stats.Duration())

	return stats, nil
}

// Stats contains statistics from a collection run.
type Stats struct {
	StartTime     time.Time // When collection started
	EndTime       time.Time // When collection ended
	StaleCount    uint64    // Leases older than MaxLeaseAge
	ReleasedCount uint64    // Leases successfully released
	FailedCount   uint64    // Leases that failed to release
}

// Duration returns the total collection duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the collection.
func (s *Stats) Summary() string {
	return fmt.Sprintf("stale=%d released=%d failed=%d duration=%s",
		s.StaleCount, s.ReleasedCount, s.FailedCount, s.Duration())
}
