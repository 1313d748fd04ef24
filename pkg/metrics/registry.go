// Package metrics provides Prometheus metrics collection for headerprop.
//
// All metrics are optional. If the registry is not initialized, constructors
// return nil and components fall back to their no-op implementations, so the
// service runs the same with or without metrics.
//
// Usage:
//
//	// Initialize global registry (typically in main.go)
//	metrics.InitRegistry()
//
//	// Create metrics instances for components
//	pm := metrics.NewPropagationMetrics()
//	controller, _ := propagate.NewController(propagate.ControllerConfig{Metrics: pm, ...})
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// registry is the global Prometheus registry for all headerprop metrics
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry with the Go runtime
// and process collectors. Subsequent calls are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry = reg
	})
}

// GetRegistry returns the global Prometheus registry, or nil when metrics are
// disabled.
//
// Thread safety:
// The sync.Once in InitRegistry provides the happens-before edge that makes
// the registry visible to later readers.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled returns true if InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
