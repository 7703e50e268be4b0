// Package metrics exposes PipeGate's Prometheus instrumentation: connected
// tunnels, in-flight dispatches, handshake outcomes, and dispatch latency.
// Metrics are registered at init; the two vectors each have a Record/Observe
// helper, while the gauges are set directly by their callers.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveTunnels is the number of currently registered tunnel sessions.
	ActiveTunnels = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pipegate_active_tunnels",
		Help: "Number of tunnel sessions currently registered.",
	})

	// InflightRequests is the number of dispatches awaiting a response.
	InflightRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pipegate_inflight_requests",
		Help: "Number of public requests currently dispatched and awaiting a response.",
	})

	// WebsocketConnectsTotal counts tunnel handshakes by outcome.
	WebsocketConnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipegate_ws_connects_total",
		Help: "Total tunnel handshake attempts by outcome.",
	}, []string{"outcome"})

	// DispatchDuration tracks how long a request spends waiting on the
	// tunnel, labeled by terminal outcome: "ok", or the lowercased error
	// code (upstream_timeout, tunnel_closed, malformed_message).
	DispatchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipegate_dispatch_duration_seconds",
		Help:    "Time spent dispatching a public request over a tunnel.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		ActiveTunnels,
		InflightRequests,
		WebsocketConnectsTotal,
		DispatchDuration,
	)
}

// RecordConnect increments WebsocketConnectsTotal for outcome (e.g. "ok",
// "unauthorized", "conn_id_in_use").
func RecordConnect(outcome string) {
	WebsocketConnectsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDispatch records a completed dispatch's duration and outcome.
func ObserveDispatch(outcome string, seconds float64) {
	DispatchDuration.WithLabelValues(outcome).Observe(seconds)
}

// Handler returns the gin handler serving the Prometheus exposition format.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return gin.WrapH(h)
}
