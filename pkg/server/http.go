package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/headerprop/internal/logger"
	"github.com/marmos91/headerprop/pkg/metrics"
)

// HTTPService serves an http.Handler on a TCP address.
type HTTPService struct {
	name   string
	server *http.Server

	// addr is resolved once the listener is bound
	addr     net.Addr
	addrMu   sync.RWMutex
	bound    chan struct{}
	stopOnce sync.Once
}

// NewHTTPService creates a stopped HTTP service.
func NewHTTPService(name, listen string, handler http.Handler) *HTTPService {
	return &HTTPService{
		name: name,
		server: &http.Server{
			Addr:              listen,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
		bound: make(chan struct{}),
	}
}

func (h *HTTPService) Name() string {
	return h.name
}

// Serve listens and serves until ctx is cancelled or Stop is called.
func (h *HTTPService) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.server.Addr, err)
	}

	h.addrMu.Lock()
	h.addr = ln.Addr()
	h.addrMu.Unlock()
	close(h.bound)

	logger.Info("%s listening on %s", h.name, ln.Addr())

	errChan := make(chan error, 1)
	go func() {
		errChan <- h.server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.Stop(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Stop gracefully shuts the listener down. Safe to call more than once.
func (h *HTTPService) Stop(ctx context.Context) error {
	var stopErr error
	h.stopOnce.Do(func() {
		if err := h.server.Shutdown(ctx); err != nil {
			stopErr = fmt.Errorf("%s shutdown error: %w", h.name, err)
		}
	})
	return stopErr
}

// Addr blocks until the listener is bound or ctx is done and returns the
// bound address.
func (h *HTTPService) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-h.bound:
		h.addrMu.RLock()
		defer h.addrMu.RUnlock()
		return h.addr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// MetricsService adapts the Prometheus metrics server to Service.
type MetricsService struct {
	server *metrics.Server
}

// NewMetricsService wraps srv.
func NewMetricsService(srv *metrics.Server) *MetricsService {
	return &MetricsService{server: srv}
}

func (m *MetricsService) Name() string {
	return fmt.Sprintf("metrics(:%d)", m.server.Port())
}

func (m *MetricsService) Serve(ctx context.Context) error {
	return m.server.Start(ctx)
}

func (m *MetricsService) Stop(ctx context.Context) error {
	return m.server.Stop(ctx)
}
