// Package metrics exposes Prometheus counters for the tracking service.
package metrics

import (
	"strconv"
	"time"

	"github.com/ignite/mail-tracker/internal/service/tracking"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks classification outcomes, store failures, notification
// failures and tracking request latency.
type Metrics struct {
	Decisions       *prometheus.CounterVec
	StoreErrors     *prometheus.CounterVec
	NotifyFailures  prometheus.Counter
	RequestDuration *prometheus.HistogramVec
}

var _ tracking.Observer = (*Metrics)(nil)

// New registers all tracking metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mailtrack_decisions_total",
			Help: "Tracking hits by event kind, outcome and reason",
		}, []string{"kind", "accepted", "reason"}),
		StoreErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mailtrack_store_errors_total",
			Help: "Store failures swallowed by the tracking endpoints, by operation",
		}, []string{"op"}),
		NotifyFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "mailtrack_notify_failures_total",
			Help: "Open notifications that could not be published",
		}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mailtrack_request_duration_seconds",
			Help:    "Duration of tracking requests by route",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"route"}),
	}
}

// ObserveDecision counts one classified hit.
func (m *Metrics) ObserveDecision(kind string, d tracking.Decision) {
	m.Decisions.WithLabelValues(kind, strconv.FormatBool(d.Accept), string(d.Reason)).Inc()
}

// ObserveStoreError counts one failed store operation.
func (m *Metrics) ObserveStoreError(op string) {
	m.StoreErrors.WithLabelValues(op).Inc()
}

// IncrementNotifyFailures counts one failed open notification.
func (m *Metrics) IncrementNotifyFailures() {
	m.NotifyFailures.Inc()
}

// ObserveRequest records the duration of a tracking request.
// Call with time.Now() at the start of the request.
func (m *Metrics) ObserveRequest(route string, start time.Time) {
	m.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
}
