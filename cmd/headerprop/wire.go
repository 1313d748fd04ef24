package main

import (
	"context"
	"fmt"

	"github.com/marmos91/headerprop/internal/logger"
	"github.com/marmos91/headerprop/pkg/config"
	"github.com/marmos91/headerprop/pkg/ingest"
	"github.com/marmos91/headerprop/pkg/propagate"
	"github.com/marmos91/headerprop/pkg/server"
)

// buildServer wires the configured stores, the propagation engine and the
// HTTP endpoints into a Server ready to Serve.
func buildServer(ctx context.Context, cfg *config.Config) (*server.Server, error) {
	p := &cfg.Propagation

	metricsResult := config.InitializeMetrics(cfg)
	if metricsResult.Server != nil {
		logger.Info("Metrics enabled on port %d", cfg.Server.Metrics.Port)
	}

	store, err := config.CreateObjectStore(ctx, &cfg.ObjectStore, p.SourceContainer, p.DestinationContainer)
	if err != nil {
		return nil, err
	}
	logger.Info("Object store: %s", cfg.ObjectStore.Type)

	headerCache, err := config.CreateHeaderCache(ctx, &cfg.Cache)
	if err != nil {
		return nil, err
	}
	logger.Info("Header cache: %s", cfg.Cache.Type)

	// Close the cache if wiring fails past this point
	ok := false
	defer func() {
		if !ok {
			_ = headerCache.Close()
		}
	}()

	scanner, err := config.CreateScanner(p)
	if err != nil {
		return nil, err
	}

	limiter := config.CreateRateLimiter(p)
	if limiter.Limited() {
		logger.Info("Copies throttled to %d/s (burst %d)", p.CopiesPerSecond, p.CopyBurst)
	}

	copier, err := propagate.NewCopier(propagate.CopierConfig{
		Store:                store,
		Scanner:              scanner,
		DestinationContainer: p.DestinationContainer,
		Limiter:              limiter,
		Metrics:              metricsResult.Propagation,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create copier: %w", err)
	}

	controller, err := propagate.NewController(propagate.ControllerConfig{
		Store:               store,
		Cache:               headerCache,
		Scanner:             scanner,
		Copier:              copier,
		MaxConcurrentCopies: p.MaxConcurrentCopies,
		Metrics:             metricsResult.Propagation,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create controller: %w", err)
	}

	dispatcher := ingest.NewDispatcher(ingest.DispatcherConfig{
		Handler:      controller,
		MaxAttempts:  p.MaxAttempts,
		RetryBackoff: p.RetryBackoff,
		Metrics:      metricsResult.Propagation,
	})

	handler := ingest.NewHandler(ingest.HandlerConfig{
		SourceContainer: p.SourceContainer,
		Dispatcher:      dispatcher,
		Cache:           headerCache,
	})

	srv := server.New(server.Config{ShutdownTimeout: cfg.Server.ShutdownTimeout}, dispatcher, headerCache)

	if err := srv.AddService(server.NewHTTPService("trigger", cfg.Server.Listen, handler.Routes())); err != nil {
		return nil, err
	}
	if metricsResult.Server != nil {
		if err := srv.AddService(server.NewMetricsService(metricsResult.Server)); err != nil {
			return nil, err
		}
	}

	collector, err := config.CreateLeaseCollector(&cfg.GC, store, p.SourceContainer)
	if err != nil {
		return nil, err
	}
	if collector != nil {
		if err := srv.AddService(collector); err != nil {
			return nil, err
		}
	}

	logger.Info("Propagating %s -> %s with %d header pattern(s)",
		p.SourceContainer, p.DestinationContainer, scanner.PatternCount())

	ok = true
	return srv, nil
}
