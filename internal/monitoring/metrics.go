// Package monitoring exposes funnel metrics to Prometheus and raises
// webhook alerts when conversions dry up or tracking delivery degrades.
package monitoring

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the funnel collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	sessionsStarted *prometheus.CounterVec
	sessionsActive  prometheus.Gauge
	screenViews     *prometheus.CounterVec
	answers         *prometheus.CounterVec
	calculations    *prometheus.CounterVec
	calcDuration    prometheus.Histogram
	checkouts       *prometheus.CounterVec
	trackingEvents  *prometheus.CounterVec
	trackingFailed  *prometheus.CounterVec
	trackingDropped prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns metrics registered on the global registry, created once.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = MustNewMetrics(prometheus.DefaultRegisterer, "")
	})
	return defaultMetrics
}

// MustNewMetrics registers the collectors on reg under namespace (default
// "quiz_funnel"). Collectors already registered with the same name are
// reused; any other registration error panics.
func MustNewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "quiz_funnel"
	}

	m := &Metrics{
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_started_total",
			Help: "Sessions started, by funnel variant.",
		}, []string{"variant"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sessions_active",
			Help: "Sessions currently held in memory.",
		}),
		screenViews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "screen_views_total",
			Help: "Screen activations, by variant and screen id.",
		}, []string{"variant", "screen"}),
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "answers_total",
			Help: "Answers recorded, by question.",
		}, []string{"question"}),
		calculations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "calculations_total",
			Help: "Completed diagnoses, by resulting tier.",
		}, []string{"tier"}),
		calcDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "calculation_display_seconds",
			Help:    "Time the calculating screen was shown.",
			Buckets: []float64{0.5, 1, 1.5, 2, 2.5, 3, 5},
		}),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "checkouts_total",
			Help: "Checkout redirects, by profile tier.",
		}, []string{"tier"}),
		trackingEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tracking_events_total",
			Help: "Tracking events emitted, by event name.",
		}, []string{"event"}),
		trackingFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tracking_failures_total",
			Help: "Tracking deliveries that failed, by sink.",
		}, []string{"sink"}),
		trackingDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "tracking_dropped_total",
			Help: "Tracking events dropped because the queue was full.",
		}),
	}

	m.sessionsStarted = register(reg, m.sessionsStarted)
	m.sessionsActive = register(reg, m.sessionsActive)
	m.screenViews = register(reg, m.screenViews)
	m.answers = register(reg, m.answers)
	m.calculations = register(reg, m.calculations)
	m.calcDuration = register(reg, m.calcDuration)
	m.checkouts = register(reg, m.checkouts)
	m.trackingEvents = register(reg, m.trackingEvents)
	m.trackingFailed = register(reg, m.trackingFailed)
	m.trackingDropped = register(reg, m.trackingDropped)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// SessionStarted counts a new session.
func (m *Metrics) SessionStarted(variant string) {
	if m == nil {
		return
	}
	m.sessionsStarted.WithLabelValues(variant).Inc()
}

// SetActiveSessions sets the live session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}

// ScreenViewed counts a screen activation.
func (m *Metrics) ScreenViewed(variant, screenID string) {
	if m == nil {
		return
	}
	m.screenViews.WithLabelValues(variant, screenID).Inc()
}

// AnswerRecorded counts an answer.
func (m *Metrics) AnswerRecorded(questionID string) {
	if m == nil {
		return
	}
	m.answers.WithLabelValues(questionID).Inc()
}

// CalculationDone counts a completed diagnosis and how long it was shown.
func (m *Metrics) CalculationDone(tier string, shown time.Duration) {
	if m == nil {
		return
	}
	m.calculations.WithLabelValues(tier).Inc()
	m.calcDuration.Observe(shown.Seconds())
}

// Checkout counts a checkout redirect.
func (m *Metrics) Checkout(tier string) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(tier).Inc()
}

// TrackingEvent counts an emitted event.
func (m *Metrics) TrackingEvent(name string) {
	if m == nil {
		return
	}
	m.trackingEvents.WithLabelValues(name).Inc()
}

// TrackingFailed counts a failed delivery.
func (m *Metrics) TrackingFailed(sink string) {
	if m == nil {
		return
	}
	m.trackingFailed.WithLabelValues(sink).Inc()
}

// TrackingDropped counts an event dropped on a full queue.
func (m *Metrics) TrackingDropped() {
	if m == nil {
		return
	}
	m.trackingDropped.Inc()
}
