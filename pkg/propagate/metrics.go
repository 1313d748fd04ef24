package propagate

import (
	"time"

	"github.com/marmos91/headerprop/pkg/header"
)

// Metrics receives propagation events for monitoring.
//
// Implementations must be safe for concurrent use. A nil Metrics in a config
// struct is replaced with a no-op implementation.
type Metrics interface {
	// ObserveScan records the classification of a controller scan:
	// "complete", "partial", "empty" or "error".
	ObserveScan(result string)

	// ObserveCacheLookup records a header cache hit or miss.
	ObserveCacheLookup(hit bool)

	// ObserveCopy records the outcome and duration of one copy.
	ObserveCopy(outcome CopyOutcome, duration time.Duration)

	// ObserveFanout records how many siblings a scan fanned out to.
	ObserveFanout(objects int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveScan(string)                     {}
func (noopMetrics) ObserveCacheLookup(bool)                {}
func (noopMetrics) ObserveCopy(CopyOutcome, time.Duration) {}
func (noopMetrics) ObserveFanout(int)                      {}

// ScanResult classifies a scan for metrics and logs.
func ScanResult(h *header.Header) string {
	switch {
	case h.Propagatable():
		return "complete"
	case h.IsPartial():
		return "partial"
	default:
		return "empty"
	}
}
