// Package metrics provides Prometheus metrics for DocChat
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stream outcomes
const (
	OutcomeDone          = "done"
	OutcomeUpstreamError = "upstream_error"
	OutcomeEOF           = "eof"
	OutcomeClientGone    = "client_gone"
)

// Metrics holds all Prometheus metrics for DocChat
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Chat stream metrics
	StreamsInFlight   prometheus.Gauge
	StreamsTotal      *prometheus.CounterVec
	StreamEventsTotal *prometheus.CounterVec
	PromptTokens      *prometheus.HistogramVec
	PersistFailures   prometheus.Counter

	// Document metrics
	PDFUploadsTotal *prometheus.CounterVec
	PDFCacheEntries prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{}

	m.HTTPRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docchat_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.HTTPRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docchat_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	m.StreamsInFlight = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "docchat_chat_streams_in_flight",
			Help: "Number of chat streams currently relaying",
		},
	)

	m.StreamsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docchat_chat_streams_total",
			Help: "Completed chat streams by outcome",
		},
		[]string{"outcome"},
	)

	m.StreamEventsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docchat_chat_stream_events_total",
			Help: "Events relayed from the upstream model",
		},
		[]string{"type"},
	)

	m.PromptTokens = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docchat_prompt_tokens",
			Help:    "Approximate prompt size per turn",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000},
		},
		[]string{"kind"},
	)

	m.PersistFailures = f.NewCounter(
		prometheus.CounterOpts{
			Name: "docchat_history_persist_failures_total",
			Help: "Chat turns whose history could not be written",
		},
	)

	m.PDFUploadsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docchat_pdf_uploads_total",
			Help: "PDF uploads by result",
		},
		[]string{"status"},
	)

	m.PDFCacheEntries = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "docchat_pdf_cache_entries",
			Help: "Documents held in the in-memory cache",
		},
	)

	return m
}

// ObserveStreamEvent counts one relayed event
func (m *Metrics) ObserveStreamEvent(isError, done bool) {
	switch {
	case isError:
		m.StreamEventsTotal.WithLabelValues("error").Inc()
	case done:
		m.StreamEventsTotal.WithLabelValues("done").Inc()
	default:
		m.StreamEventsTotal.WithLabelValues("content").Inc()
	}
}
