// Package metrics records controller execution metrics and exposes the
// Prometheus handler the gateway mounts at /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the controller metric set on its own registry so tests
// can create recorders freely without collector collisions.
type Recorder struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	duration   prometheus.Histogram
}

// NewRecorder creates a recorder with a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "castellan",
			Name:      "operations_total",
			Help:      "Management operations executed, by terminal outcome.",
		}, []string{"outcome"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "castellan",
			Name:      "operation_duration_seconds",
			Help:      "Wall-clock time from dispatch to terminal.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Observe records one finished operation.
func (r *Recorder) Observe(outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.operations.WithLabelValues(outcome).Inc()
	r.duration.Observe(elapsed.Seconds())
}

// Handler returns the scrape endpoint for this recorder's registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
