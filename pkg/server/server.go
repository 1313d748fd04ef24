package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/marmos91/headerprop/internal/logger"
)

// Service is a long-running network endpoint managed by Server.
type Service interface {
	// Name identifies the service in logs
	Name() string

	// Serve blocks until ctx is cancelled or the service fails.
	// It returns nil or ctx's error on a clean stop.
	Serve(ctx context.Context) error

	// Stop signals the service to stop accepting work and return from Serve.
	Stop(ctx context.Context) error
}

// Drainer finishes work accepted before shutdown. The batch dispatcher
// implements it.
type Drainer interface {
	Shutdown(ctx context.Context) error
}

// Config contains lifecycle settings.
type Config struct {
	// ShutdownTimeout bounds stopping services plus draining in-flight work
	ShutdownTimeout time.Duration
}

// Server manages the lifecycle of the headerprop endpoints and the state
// they share.
//
// Lifecycle:
//  1. Creation: New() with the drainer and the resources to release
//  2. Registration: AddService() for the trigger endpoint and, optionally,
//     the metrics endpoint
//  3. Startup: Serve() starts all services concurrently
//  4. Shutdown: context cancellation or a failing service stops every
//     service in reverse order, drains accepted batches, then closes
//     resources
//
// Ordering matters on shutdown: the trigger endpoint stops accepting batches
// before the dispatcher drains, and the header cache is closed only after
// the last batch that could write to it has finished.
type Server struct {
	config    Config
	drainer   Drainer
	resources []io.Closer

	services []Service

	// mu protects services and served
	mu     sync.Mutex
	served bool
}

// New creates a Server. drainer may be nil. resources are closed in order
// once every service has stopped and the drainer has returned.
func New(config Config, drainer Drainer, resources ...io.Closer) *Server {
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 30 * time.Second
	}

	return &Server{
		config:    config,
		drainer:   drainer,
		resources: resources,
		services:  make([]Service, 0, 2),
	}
}

// AddService registers a service. Names must be unique.
func (s *Server) AddService(svc Service) error {
	if svc == nil {
		return fmt.Errorf("service cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		return fmt.Errorf("cannot add service %s after Serve() has been called", svc.Name())
	}

	for _, existing := range s.services {
		if existing.Name() == svc.Name() {
			return fmt.Errorf("service %s already registered", svc.Name())
		}
	}

	s.services = append(s.services, svc)
	logger.Debug("Registered %s service", svc.Name())

	return nil
}

// Serve starts every registered service and blocks until ctx is cancelled
// or a service fails, then shuts everything down.
//
// Returns:
//   - ctx's error when shutdown was triggered by cancellation
//   - the failing service's error otherwise
//   - joined with any drain or close error
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.served = true
	if len(s.services) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("no services registered; call AddService() before Serve()")
	}
	services := make([]Service, len(s.services))
	copy(services, s.services)
	s.mu.Unlock()

	logger.Info("Starting headerprop with %d service(s)", len(services))

	// Buffered so failing services never block
	errChan := make(chan serviceError, len(services))

	serveCtx, cancelServe := context.WithCancel(ctx)
	defer cancelServe()

	var wg sync.WaitGroup
	for _, svc := range services {
		wg.Add(1)
		go func(svc Service) {
			defer wg.Done()

			if err := svc.Serve(serveCtx); err != nil && serveCtx.Err() == nil {
				logger.Error("%s service failed: %v", svc.Name(), err)
				errChan <- serviceError{name: svc.Name(), err: err}
				return
			}
			logger.Debug("%s service stopped", svc.Name())
		}(svc)
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		shutdownErr = ctx.Err()

	case svcErr := <-errChan:
		logger.Error("Service %s failed: %v - initiating shutdown", svcErr.name, svcErr.err)
		shutdownErr = fmt.Errorf("%s service error: %w", svcErr.name, svcErr.err)
	}

	// A fresh deadline: ctx is already done when shutdown is signal driven
	stopCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.stopAllServices(stopCtx, services)
	cancelServe()
	wg.Wait()

	if s.drainer != nil {
		logger.Info("Waiting for in-flight batches to finish")
		if err := s.drainer.Shutdown(stopCtx); err != nil {
			logger.Warn("In-flight batches cancelled: %v", err)
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("drain batches: %w", err))
		}
	}

	for _, r := range s.resources {
		if err := r.Close(); err != nil {
			logger.Error("Error closing resource: %v", err)
			shutdownErr = errors.Join(shutdownErr, err)
		}
	}

	logger.Info("headerprop stopped")

	return shutdownErr
}

type serviceError struct {
	name string
	err  error
}

// stopAllServices stops services in reverse registration order, logging and
// skipping failures.
func (s *Server) stopAllServices(ctx context.Context, services []Service) {
	for i := len(services) - 1; i >= 0; i-- {
		svc := services[i]
		if err := svc.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s service: %v", svc.Name(), err)
		}
	}
}

// Services returns a snapshot of the registered services.
func (s *Server) Services() []Service {
	s.mu.Lock()
	defer s.mu.Unlock()

	services := make([]Service, len(s.services))
	copy(services, s.services)
	return services
}
