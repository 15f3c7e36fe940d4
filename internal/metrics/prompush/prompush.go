// Package prompush implements a Prometheus Pushgateway backend for
// internal/metrics. Batch runs do not live long enough to be scraped, so the
// collected registry is pushed on Flush.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"laptel/internal/metrics"
)

// Backend implements metrics.Backend and metrics.Flusher.
type Backend struct {
	registry *prometheus.Registry

	units    *prometheus.CounterVec
	records  *prometheus.CounterVec
	duration *prometheus.HistogramVec

	push func() error
}

// NewBackend creates a backend that pushes to gatewayURL under job.
func NewBackend(job, gatewayURL string) (*Backend, error) {
	if job == "" {
		return nil, fmt.Errorf("prompush: job name is empty")
	}
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway url is empty")
	}
	b := newBackend()
	pusher := push.New(gatewayURL, job).Gatherer(b.registry)
	b.push = pusher.Push
	return b, nil
}

func newBackend() *Backend {
	reg := prometheus.NewRegistry()
	auto := promauto.With(reg)
	return &Backend{
		registry: reg,
		units: auto.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.UnitsTotal,
			Help: "Pipeline units finished, by status.",
		}, []string{"status"}),
		records: auto.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Records processed, by kind (laps, samples, joined, dropped).",
		}, []string{"kind"}),
		duration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.UnitDurationSeconds,
			Help:    "Wall time of one pipeline unit.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"status"}),
	}
}

func label(l metrics.Labels, key string) string {
	if v := l[key]; v != "" {
		return v
	}
	return "unknown"
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	switch name {
	case metrics.UnitsTotal:
		b.units.WithLabelValues(label(labels, "status")).Add(delta)
	case metrics.RecordsTotal:
		b.records.WithLabelValues(label(labels, "kind")).Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.UnitDurationSeconds || value < 0 {
		return
	}
	b.duration.WithLabelValues(label(labels, "status")).Observe(value)
}

// Flush pushes the full registry, replacing the job's previous group.
func (b *Backend) Flush() error {
	if b.push == nil {
		return nil
	}
	if err := b.push(); err != nil {
		return fmt.Errorf("prompush: %w", err)
	}
	return nil
}

var (
	_ metrics.Backend = (*Backend)(nil)
	_ metrics.Flusher = (*Backend)(nil)
)
