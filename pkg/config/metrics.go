package config

import (
	"github.com/marmos91/headerprop/pkg/metrics"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Propagation collects propagation and batch metrics (nil if disabled,
	// which is a valid no-op)
	Propagation *metrics.PropagationMetrics
}

// InitializeMetrics creates all metrics components based on configuration.
//
// If metrics are enabled the global Prometheus registry is initialized and a
// metrics server is created. Otherwise both fields are nil.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server:      metrics.NewServer(metrics.ServerConfig{Port: cfg.Server.Metrics.Port}),
		Propagation: metrics.NewPropagationMetrics(),
	}
}
