// Package metrics provides Prometheus instrumentation for bountyd.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	enabled  bool
	registry *prometheus.Registry

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	httpRejectedTotal *prometheus.CounterVec

	bountyOperationsTotal *prometheus.CounterVec
	orphansTotal          prometheus.Counter

	gateTransitionsTotal *prometheus.CounterVec
	proofsRecordedTotal  *prometheus.CounterVec
	streamSubscribers    prometheus.Gauge
)

// Init builds a fresh registry. Every series carries a service label.
// Calling Init again replaces the registry, so tests can reinitialise.
func Init(enabledFlag bool, svcName string) {
	enabled = enabledFlag
	if !enabled {
		registry = nil
		return
	}

	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"service": svcName}, registry))

	httpRequestsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	httpDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	httpRejectedTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_rejected_total",
		Help: "HTTP requests refused before routing",
	}, []string{"reason"})

	bountyOperationsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "bounty_operations_total",
		Help: "Bounty create and claim flows by outcome",
	}, []string{"operation", "outcome"})

	orphansTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "bounty_orphans_total",
		Help: "Tracker issues created without a funded bounty",
	})

	gateTransitionsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "verification_gate_transitions_total",
		Help: "Verification gate state changes",
	}, []string{"from", "to"})

	proofsRecordedTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "verification_proofs_total",
		Help: "Identity provider proof callbacks by result",
	}, []string{"result"})

	streamSubscribers = f.NewGauge(prometheus.GaugeOpts{
		Name: "verification_stream_subscribers",
		Help: "Open proof stream connections",
	})
}

// Handler serves the registry, or 404 while metrics are off.
func Handler() http.Handler {
	if !enabled || registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// Enabled returns whether metrics are enabled.
func Enabled() bool {
	return enabled
}

// RequestRejected records a request refused before routing. reason is one of
// "filtered", "rate_limited" or "body_too_large".
func RequestRejected(reason string) {
	if !enabled {
		return
	}
	httpRejectedTotal.WithLabelValues(reason).Inc()
}
