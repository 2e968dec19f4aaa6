package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Upstream outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeError       = "error"       // transport failure after all attempts
	OutcomeStatus      = "status"      // non-2xx response
	OutcomeCircuitOpen = "circuit_open"
)

// Rewrite results.
const (
	RewriteApplied = "applied"
	RewriteSkipped = "skipped"
	RewriteFailed  = "failed"
)

// Collector owns the Prometheus registry for the proxy. All methods are
// safe on a nil Collector so components can run without metrics.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	securityBlocks   *prometheus.CounterVec
	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	configRewrites   *prometheus.CounterVec
	reloads          *prometheus.CounterVec
}

// DefaultBuckets are request duration buckets in seconds
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

// NewCollector creates and registers all proxy metrics. If registry is nil a
// fresh one is created; the Go runtime and process collectors are added to it.
func NewCollector(namespace string, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	if namespace == "" {
		namespace = "mediaproxy"
	}

	c := &Collector{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of proxied requests by route and status",
			},
			[]string{"route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Duration of requests in seconds",
				Buckets:   DefaultBuckets,
			},
			[]string{"route"},
		),
		securityBlocks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "security_blocks_total",
				Help:      "Requests refused by the security filter",
			},
			[]string{"reason"},
		),
		upstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_requests_total",
				Help:      "Upstream calls by upstream and outcome",
			},
			[]string{"upstream", "outcome"},
		),
		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_duration_seconds",
				Help:      "Duration of upstream calls in seconds, including retries",
				Buckets:   DefaultBuckets,
			},
			[]string{"upstream"},
		),
		configRewrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_rewrites_total",
				Help:      "Configuration payload rewrites by result",
			},
			[]string{"result"},
		),
		reloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Configuration reloads by result",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.securityBlocks,
		c.upstreamRequests,
		c.upstreamDuration,
		c.configRewrites,
		c.reloads,
	)
	return c
}

// RecordRequest records a completed request
func (c *Collector) RecordRequest(route string, statusCode int, duration time.Duration) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
	c.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordSecurityBlock counts a request refused by the security filter.
func (c *Collector) RecordSecurityBlock(reason string) {
	if c == nil {
		return
	}
	c.securityBlocks.WithLabelValues(reason).Inc()
}

// RecordUpstream records one logical upstream call.
func (c *Collector) RecordUpstream(upstream, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.upstreamRequests.WithLabelValues(upstream, outcome).Inc()
	c.upstreamDuration.WithLabelValues(upstream).Observe(duration.Seconds())
}

// RecordRewrite counts a configuration payload rewrite attempt.
func (c *Collector) RecordRewrite(result string) {
	if c == nil {
		return
	}
	c.configRewrites.WithLabelValues(result).Inc()
}

// RecordReload counts a configuration reload.
func (c *Collector) RecordReload(ok bool) {
	if c == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	c.reloads.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
