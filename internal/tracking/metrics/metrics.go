// Package metrics holds the Prometheus instruments for attribution tracking.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Capture outcomes.
const (
	CaptureCreated   = "created"
	CaptureUpdated   = "updated"
	CaptureUnchanged = "unchanged"
	CaptureBot       = "bot"
	CaptureError     = "error"
)

// Dispatch outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeHTTPError = "http_error"
	OutcomeTimeout   = "timeout"
	OutcomeError     = "error"
	OutcomePanic     = "panic"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	SessionsCaptured *prometheus.CounterVec
	ConsentRecorded  *prometheus.CounterVec
	Dispatches       *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
}

// New registers the tracking instruments on reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsCaptured: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foldclub",
			Subsystem: "tracking",
			Name:      "sessions_captured_total",
			Help:      "Attribution captures by result.",
		}, []string{"result"}),
		ConsentRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foldclub",
			Subsystem: "tracking",
			Name:      "consent_recorded_total",
			Help:      "Consent records appended, by marketing choice.",
		}, []string{"marketing"}),
		Dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foldclub",
			Subsystem: "tracking",
			Name:      "dispatch_total",
			Help:      "Platform dispatches by platform, event and outcome.",
		}, []string{"platform", "event", "outcome"}),
		DispatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "foldclub",
			Subsystem: "tracking",
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent in a single platform call.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 3, 5},
		}, []string{"platform"}),
	}
}

func (m *Metrics) Captured(result string) {
	if m == nil {
		return
	}
	m.SessionsCaptured.WithLabelValues(result).Inc()
}

func (m *Metrics) Consent(marketing bool) {
	if m == nil {
		return
	}
	label := "false"
	if marketing {
		label = "true"
	}
	m.ConsentRecorded.WithLabelValues(label).Inc()
}

func (m *Metrics) Dispatched(platform, event, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(platform, event, outcome).Inc()
	m.DispatchDuration.WithLabelValues(platform).Observe(d.Seconds())
}
