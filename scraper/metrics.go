package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the estimator.
type Metrics struct {
	Registry         *prometheus.Registry
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RetriesTotal     prometheus.Counter
	ErrorsTotal      *prometheus.CounterVec
	ExtractionsTotal *prometheus.CounterVec
	EstimatesTotal   *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estimator_requests_total",
			Help: "Total upstream requests issued, by channel.",
		},
		[]string{"channel"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "estimator_request_duration_seconds",
			Help:    "Upstream request latency, including transport retries.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "estimator_transport_retries_total",
			Help: "Total transport-level retries on transient status codes.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estimator_errors_total",
			Help: "Total strategy failures by channel and error type.",
		},
		[]string{"channel", "error_type"},
	)
	extractions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estimator_extractions_total",
			Help: "HTML extraction attempts by technique and outcome.",
		},
		[]string{"technique", "outcome"},
	)
	estimates := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estimator_estimates_total",
			Help: "Estimate lookups by outcome.",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(requests, requestDuration, retries, errorsTotal, extractions, estimates)

	return &Metrics{
		Registry:         registry,
		RequestsTotal:    requests,
		RequestDuration:  requestDuration,
		RetriesTotal:     retries,
		ErrorsTotal:      errorsTotal,
		ExtractionsTotal: extractions,
		EstimatesTotal:   estimates,
	}
}

// IncRequest increments the requests counter for a channel.
func (m *Metrics) IncRequest(channel string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(channel).Inc()
}

// ObserveDuration records an upstream request duration.
func (m *Metrics) ObserveDuration(channel string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(channel).Observe(d.Seconds())
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter.
func (m *Metrics) IncError(channel, errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(channel, errorType).Inc()
}

// IncExtraction counts one extraction technique attempt.
func (m *Metrics) IncExtraction(technique, outcome string) {
	if m == nil {
		return
	}
	m.ExtractionsTotal.WithLabelValues(technique, outcome).Inc()
}

// IncEstimate counts one finished lookup.
func (m *Metrics) IncEstimate(outcome string) {
	if m == nil {
		return
	}
	m.EstimatesTotal.WithLabelValues(outcome).Inc()
}

// Observe implements Observer by translating events into counters.
func (m *Metrics) Observe(ev Event) {
	if m == nil {
		return
	}
	switch ev.Stage {
	case StageFetch:
		m.IncRequest(ev.Channel)
		m.ObserveDuration(ev.Channel, ev.Duration)
		if ev.ErrorType != "" {
			m.IncError(ev.Channel, ev.ErrorType)
		}
	case StageParse:
		outcome := "hit"
		if ev.Err != nil {
			outcome = "miss"
		}
		m.IncExtraction(ev.Technique, outcome)
	case StageEstimate:
		outcome := "found"
		if ev.Count == 0 {
			outcome = "none"
		}
		m.IncEstimate(outcome)
	}
}
