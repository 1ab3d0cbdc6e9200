package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ProductExtracted("ebay")
	m.ProductExtracted("ebay")
	m.EntrySkipped("ebay", "sponsored")
	m.TaskFinished("ebay", "succeeded")
	m.ObserveRequest(3 * time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProductsExtracted.WithLabelValues("ebay")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EntriesSkipped.WithLabelValues("ebay", "sponsored")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.EntriesSkipped.WithLabelValues("ebay", "no_price")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreTasks.WithLabelValues("ebay", "succeeded")))

	count, err := testutil.GatherAndCount(reg, "scraper_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ProductExtracted("ebay")
		m.EntrySkipped("ebay", "sponsored")
		m.TaskFinished("ebay", "failed")
		m.ObserveRequest(time.Second)
	})
}

func TestNew_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
