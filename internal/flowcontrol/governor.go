// Package flowcontrol implements the permit-based inbound flow-control
// protocol: the client extends the server a cumulative grant of permits and
// refills it in batches as frames are consumed.
//
// Grounded on the teacher's metrics bookkeeping style (services/metrics.go,
// metrics.LatencyHist) for the counting half of this component; this
// package additionally registers a prometheus.Counter so permit grants are
// observable the way the teacher observes message latency.
package flowcontrol

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// permitsGranted counts cumulative flow-control grants issued across every
// Governor instance in the process, labeled by channel.
var permitsGranted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "axon_permits_granted_total",
		Help: "Cumulative inbound flow-control permits granted to the server, by channel.",
	},
	[]string{"channel"},
)

func init() {
	prometheus.MustRegister(permitsGranted)
}

// RefillFunc sends a FlowControl frame granting delta more permits.
type RefillFunc func(delta int64)

// Governor tracks consumed permits since the last refill and triggers a
// refill once the batch threshold is reached. The grant itself is
// cumulative on the server side and the client never decreases it: the
// Governor only ever adds to it via refill.
type Governor struct {
	channel string
	permits int64
	batch   int64
	refill  RefillFunc

	consumed atomic.Int64
	enabled  sync.Once
}

// New constructs a Governor for the named channel (used only as a metrics
// label). permits is the initial grant size and batch is the refill
// increment; refill is invoked with the batch delta whenever consumed
// reaches the threshold.
func New(channel string, permits, batch int64, refill RefillFunc) *Governor {
	return &Governor{channel: channel, permits: permits, batch: batch, refill: refill}
}

// EnableFlowControl sends the initial grant and begins refill accounting.
// Idempotent per Governor instance: a second call has no effect, matching
// the spec's "begins refill accounting" being a one-time transition per
// connected stream.
func (g *Governor) EnableFlowControl() {
	g.enabled.Do(func() {
		g.refill(g.permits)
	})
}

// ConsumeOne accounts for one dispatched inbound frame, refilling the grant
// once the batch threshold is reached.
func (g *Governor) ConsumeOne() {
	g.consumed.Add(1)
	for {
		n := g.consumed.Load()
		if n < g.batch {
			return
		}
		if g.consumed.CompareAndSwap(n, n-g.batch) {
			g.refill(g.batch)
			permitsGranted.WithLabelValues(g.channel).Add(float64(g.batch))
		}
	}
}

// Consumed returns the number of frames consumed since the last refill, for
// tests.
func (g *Governor) Consumed() int64 {
	return g.consumed.Load()
}
