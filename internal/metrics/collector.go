// Package metrics exposes Prometheus metrics for the gateway.
//
// A Collector owns its own registry so tests and multiple servers in one
// process do not collide on the default registerer. A nil *Collector is valid
// and records nothing, which keeps call sites free of enabled checks.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records request, stream frame and token refresh metrics.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	framesTotal     *prometheus.CounterVec
	tokenRefreshes  *prometheus.CounterVec
}

// NewCollector creates a collector under the given namespace. If registry is
// nil a fresh one is created.
func NewCollector(namespace string, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Chat completion requests by mode and outcome.",
			},
			[]string{"mode", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Chat completion request duration, including the full stream.",
				// LLM latencies: 100ms to several minutes
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 300},
			},
			[]string{"mode"},
		),
		framesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_frames_total",
				Help:      "Translated upstream chunks by delta kind.",
			},
			[]string{"kind"},
		),
		tokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refresh_total",
				Help:      "IAM token exchanges by result.",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.framesTotal,
		c.tokenRefreshes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// RecordRequest records a finished chat completion request.
func (c *Collector) RecordRequest(mode, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(mode, status).Inc()
	c.requestDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordFrame counts one translated chunk.
func (c *Collector) RecordFrame(kind string) {
	if c == nil {
		return
	}
	c.framesTotal.WithLabelValues(kind).Inc()
}

// RecordTokenRefresh counts one token exchange attempt outcome.
func (c *Collector) RecordTokenRefresh(result string) {
	if c == nil {
		return
	}
	c.tokenRefreshes.WithLabelValues(result).Inc()
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
