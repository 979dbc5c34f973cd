// Package metrics holds the connector's process-wide Prometheus
// collectors not already registered by internal/flowcontrol's
// axon_permits_granted_total.
//
// Grounded on the teacher's metrics.LatencyHist: one package-level
// collector per concern, registered in init, labeled by the dimension
// callers care about (there: layer; here: channel). Handler is grounded
// on services/metricsRegistry.New, which builds a dedicated registry
// plus a promhttp handler rather than exposing the process-wide default
// registerer directly; this package keeps using the default registerer
// (simpler for a library with no http server of its own to own) but
// exposes the same process/go collectors and promhttp.Handler shape for
// a host binary (axonctl's connect command, cmd/connect.go) to mount.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DispatchLatency observes the time between receiving an inbound frame and
// the dispatch routine returning (not the user handler's completion — see
// internal/dispatch.Loop.Run), labeled by channel.
var DispatchLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "axon_dispatch_latency_ms",
		Help:    "Time from inbound frame receipt to dispatch-call return, in milliseconds, by channel.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 16),
	},
	[]string{"channel"},
)

// PendingInstructions tracks the current size of each channel's pending-
// instruction registry.
var PendingInstructions = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "axon_pending_instructions",
		Help: "Outbound instructions currently awaiting an ack, by channel.",
	},
	[]string{"channel"},
)

// ReconnectsTotal counts reconnect attempts, by channel.
var ReconnectsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "axon_reconnects_total",
		Help: "Cumulative reconnect attempts, by channel.",
	},
	[]string{"channel"},
)

func init() {
	prometheus.MustRegister(DispatchLatency, PendingInstructions, ReconnectsTotal)
}

// Handler returns an http.Handler serving the default registerer in the
// Prometheus text exposition format, for a host binary to mount at
// /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
