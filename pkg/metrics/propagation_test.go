package metrics

import (
	"testing"
	"time"

	"github.com/marmos91/headerprop/pkg/propagate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPropagationMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newPropagationMetrics(reg)

	m.ObserveScan("complete")
	m.ObserveScan("complete")
	m.ObserveScan("partial")
	m.ObserveCacheLookup(true)
	m.ObserveCacheLookup(false)
	m.ObserveCopy(propagate.CopyWritten, 20*time.Millisecond)
	m.ObserveCopy(propagate.CopyLeaseConflict, time.Millisecond)
	m.ObserveFanout(7)
	m.ObserveBatch("success")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.scansTotal.WithLabelValues("complete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scansTotal.WithLabelValues("partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookupsTotal.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookupsTotal.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.copiesTotal.WithLabelValues("written")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.copiesTotal.WithLabelValues("lease_conflict")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.fanoutObjects))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batchesTotal.WithLabelValues("success")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.copyDuration))
}

func TestNewPropagationMetrics_Disabled(t *testing.T) {
	if IsEnabled() {
		t.Skip("global registry already initialized")
	}
	assert.Nil(t, NewPropagationMetrics())
}

func TestPropagationMetrics_NilIsNoop(t *testing.T) {
	var m *PropagationMetrics
	assert.NotPanics(t, func() {
		m.ObserveScan("complete")
		m.ObserveCacheLookup(true)
		m.ObserveCopy(propagate.CopyWritten, time.Second)
		m.ObserveFanout(1)
		m.ObserveBatch("success")
	})
}
