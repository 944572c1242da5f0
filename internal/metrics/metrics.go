// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for bridge and upstream latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	// Engine bridge (inbound) metrics.
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Decision gate.
	Decisions   *prometheus.CounterVec
	Activations *prometheus.CounterVec

	// Outbound backend.
	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec
	UpstreamFailures  *prometheus.CounterVec
	BackendBuilds     *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webview_proxy_http_requests_total",
			Help: "Total inbound bridge requests.",
		}, []string{"method", "status_code", "path_prefix"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webview_proxy_http_request_duration_seconds",
			Help:    "Inbound bridge request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),
		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "webview_proxy_http_requests_in_flight",
			Help: "Number of bridge requests currently being processed.",
		}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webview_proxy_decisions_total",
			Help: "Proxy decisions by source, route and reason.",
		}, []string{"source", "route", "reason"}),
		Activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webview_proxy_origin_activations_total",
			Help: "Origins marked unhealthy, split by whether a new window opened.",
		}, []string{"first"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webview_proxy_upstream_request_duration_seconds",
			Help:    "Upstream exchange latency (until response headers) in seconds.",
			Buckets: defaultBuckets,
		}, []string{"backend", "method"}),
		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webview_proxy_upstream_responses_total",
			Help: "Total upstream responses by backend, method and status code.",
		}, []string{"backend", "method", "status_code"}),
		UpstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webview_proxy_upstream_failures_total",
			Help: "Upstream exchanges that failed, by backend and failure kind.",
		}, []string{"backend", "kind"}),
		BackendBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webview_proxy_backend_builds_total",
			Help: "HTTP backend constructions by backend name and outcome.",
		}, []string{"backend", "outcome"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.Decisions,
		m.Activations,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.UpstreamFailures,
		m.BackendBuilds,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the allowed path label values (bounded cardinality).
var knownPrefixes = []string{
	"/v1/intercept", "/v1/sw", "/v1/page", "/v1/user-agent", "/v1/events", "/v1/origins",
	"/healthz", "/proxy/status", "/metrics",
}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
