package metrics

import (
	"time"

	"github.com/marmos91/headerprop/pkg/ingest"
	"github.com/marmos91/headerprop/pkg/propagate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PropagationMetrics is the Prometheus implementation of propagate.Metrics
// and ingest.Metrics.
type PropagationMetrics struct {
	scansTotal        *prometheus.CounterVec
	cacheLookupsTotal *prometheus.CounterVec
	copiesTotal       *prometheus.CounterVec
	fanoutObjects     prometheus.Counter
	copyDuration      prometheus.Histogram
	batchesTotal      *prometheus.CounterVec
}

var (
	_ propagate.Metrics = (*PropagationMetrics)(nil)
	_ ingest.Metrics    = (*PropagationMetrics)(nil)
)

// NewPropagationMetrics creates collectors on the global registry.
//
// Returns nil if metrics are not enabled (InitRegistry not called). A nil
// *PropagationMetrics is a valid no-op.
func NewPropagationMetrics() *PropagationMetrics {
	if !IsEnabled() {
		return nil
	}
	return newPropagationMetrics(GetRegistry())
}

func newPropagationMetrics(reg prometheus.Registerer) *PropagationMetrics {
	factory := promauto.With(reg)

	return &PropagationMetrics{
		scansTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "headerprop_scans_total",
				Help: "Header scans triggered by notifications, by result",
			},
			[]string{"result"}, // complete, partial, empty, error
		),
		cacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "headerprop_cache_lookups_total",
				Help: "Header cache lookups by result",
			},
			[]string{"result"}, // hit, miss
		),
		copiesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "headerprop_copies_total",
				Help: "Copy-merge operations by outcome",
			},
			[]string{"outcome"},
		),
		fanoutObjects: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "headerprop_fanout_objects_total",
				Help: "Objects scheduled for copy by folder fan-outs",
			},
		),
		copyDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name: "headerprop_copy_duration_seconds",
				Help: "Duration of copy-merge operations in seconds",
				Buckets: []float64{
					0.01,  // 10ms
					0.05,  // 50ms
					0.1,   // 100ms
					0.25,  // 250ms
					0.5,   // 500ms
					1.0,   // 1s
					2.5,   // 2.5s
					10.0,  // 10s
					30.0,  // 30s
				},
			},
		),
		batchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "headerprop_batches_total",
				Help: "Notification batches by status",
			},
			[]string{"status"}, // success, retry, failed
		),
	}
}

func (m *PropagationMetrics) ObserveScan(result string) {
	if m == nil {
		return
	}
	m.scansTotal.WithLabelValues(result).Inc()
}

func (m *PropagationMetrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookupsTotal.WithLabelValues(result).Inc()
}

func (m *PropagationMetrics) ObserveCopy(outcome propagate.CopyOutcome, duration time.Duration) {
	if m == nil {
		return
	}
	m.copiesTotal.WithLabelValues(outcome.String()).Inc()
	m.copyDuration.Observe(duration.Seconds())
}

func (m *PropagationMetrics) ObserveFanout(objects int) {
	if m == nil {
		return
	}
	m.fanoutObjects.Add(float64(objects))
}

func (m *PropagationMetrics) ObserveBatch(status string) {
	if m == nil {
		return
	}
	m.batchesTotal.WithLabelValues(status).Inc()
}
