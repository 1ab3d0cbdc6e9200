// Package metrics defines the prometheus collectors for scraping runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "scraper"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	ProductsExtracted *prometheus.CounterVec
	EntriesSkipped    *prometheus.CounterVec
	StoreTasks        *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
}

// New builds the collectors and registers them on reg. A nil reg leaves them
// unregistered, which is what tests usually want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProductsExtracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "products_extracted_total",
			Help:      "Products emitted by the listing extractor.",
		}, []string{"store"}),
		EntriesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_skipped_total",
			Help:      "Listing entries skipped by the extractor.",
		}, []string{"store", "reason"}),
		StoreTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_tasks_total",
			Help:      "Finished per-store scraping tasks.",
		}, []string{"store", "outcome"}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Wall time of a whole scraping request across all stores.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
	}

	if reg != nil {
		reg.MustRegister(m.ProductsExtracted, m.EntriesSkipped, m.StoreTasks, m.RequestDuration)
	}
	return m
}

func (m *Metrics) ProductExtracted(store string) {
	if m == nil {
		return
	}
	m.ProductsExtracted.WithLabelValues(store).Inc()
}

func (m *Metrics) EntrySkipped(store, reason string) {
	if m == nil {
		return
	}
	m.EntriesSkipped.WithLabelValues(store, reason).Inc()
}

func (m *Metrics) TaskFinished(store, outcome string) {
	if m == nil {
		return
	}
	m.StoreTasks.WithLabelValues(store, outcome).Inc()
}

func (m *Metrics) ObserveRequest(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}
