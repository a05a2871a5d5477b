// Package metrics exposes publish pipeline counters and histograms.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pagehost"

// Publish outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Compensation results.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds the pipeline collectors. A nil *Metrics records nothing.
type Metrics struct {
	publishTotal  *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	compensations *prometheus.CounterVec
	probeErrors   *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		publishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_total",
			Help:      "Publish requests by outcome.",
		}, []string{"outcome"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each publish pipeline stage.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),
		compensations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensations_total",
			Help:      "Compensating actions run after a failed publish.",
		}, []string{"action", "result"}),
		probeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dns_probe_errors_total",
			Help:      "DNS availability probe failures by probe policy.",
		}, []string{"policy"}),
	}
}

// ObservePublish counts a finished publish request.
func (m *Metrics) ObservePublish(outcome string) {
	if m == nil {
		return
	}
	m.publishTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveCompensation counts a compensating action.
func (m *Metrics) ObserveCompensation(action string, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.compensations.WithLabelValues(action, result).Inc()
}

// ObserveProbeError counts a failed DNS probe.
func (m *Metrics) ObserveProbeError(policy string) {
	if m == nil {
		return
	}
	m.probeErrors.WithLabelValues(policy).Inc()
}

// PublishCounter returns the publish counter for outcome.
func (m *Metrics) PublishCounter(outcome string) prometheus.Counter {
	return m.publishTotal.WithLabelValues(outcome)
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
