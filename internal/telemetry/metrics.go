package telemetry

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/victornm/gema/internal/domain"
	"github.com/victornm/gema/internal/event"
)

const namespace = "gema"

type Metrics struct {
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	sessionEvents *prometheus.CounterVec
	answers       *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. Use prometheus.DefaultRegisterer to expose
// them on the default /metrics handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "events_total",
			Help:      "Committed session lifecycle events by type.",
		}, []string{"type"}),
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "score",
			Name:      "answers_total",
			Help:      "Accepted answers by correctness.",
		}, []string{"correct"}),
	}

	reg.MustRegister(m.requests, m.latency, m.sessionEvents, m.answers)
	return m
}

// HTTP records request count and latency. Unmatched routes are grouped under "unmatched".
func (m *Metrics) HTTP() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.latency.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Observe counts domain events published on eb.
func (m *Metrics) Observe(eb *event.Bus) {
	event.On(eb, m.onSessionChanged)
	event.On(eb, m.onAnswerSubmitted)
}

func (m *Metrics) onSessionChanged(_ context.Context, e domain.EventSessionChanged) error {
	m.sessionEvents.WithLabelValues(string(e.Event.Type)).Inc()
	return nil
}

func (m *Metrics) onAnswerSubmitted(_ context.Context, e domain.EventAnswerSubmitted) error {
	m.answers.WithLabelValues(strconv.FormatBool(e.Correct)).Inc()
	return nil
}
