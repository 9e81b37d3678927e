package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the server's prometheus collectors
type Metrics struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	rateLimited     *prometheus.CounterVec
	streams         *prometheus.CounterVec
	ingestedChunks  prometheus.Counter
}

// NewMetrics registers collectors on a fresh registry, including the Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docchat_http_request_duration_seconds",
			Help:    "HTTP request duration by route, method and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		rateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docchat_rate_limited_total",
			Help: "Requests rejected by the rate limiter, by operation.",
		}, []string{"operation"}),
		streams: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docchat_answer_streams_total",
			Help: "Answer streams by outcome.",
		}, []string{"outcome"}),
		ingestedChunks: f.NewCounter(prometheus.CounterOpts{
			Name: "docchat_ingested_chunks_total",
			Help: "Chunks stored by successful ingestions.",
		}),
	}
}

// Registry exposes the registry for scraping.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
