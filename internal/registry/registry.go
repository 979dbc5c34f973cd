// Package registry implements the pending-instruction registry: the map
// from an outbound instructionId to the future awaiting its ack.
//
// Grounded on the teacher's use of github.com/alphadose/haxmap for
// centralisedSubscriber's channelsTracker and wsWriteChanManager's
// connections map — both lock-free maps guarding concurrent producer
// goroutines. The pending registry has the same shape: many goroutines
// call Track concurrently (one per in-flight sendCommand/subscribe), and a
// single dispatch goroutine calls Ack as inbound acks arrive.
package registry

import (
	"github.com/alphadose/haxmap"

	"github.com/riftline/axonconnect/internal/future"
	"github.com/riftline/axonconnect/internal/proto"
	"github.com/riftline/axonconnect/metrics"
)

// Registry tracks outbound instructions awaiting an ack.
type Registry struct {
	channel string
	pending *haxmap.Map[string, *future.Future[*proto.Ack]]
}

// New returns an empty Registry. channel labels the
// axon_pending_instructions gauge.
func New(channel string) *Registry {
	return &Registry{channel: channel, pending: haxmap.New[string, *future.Future[*proto.Ack]]()}
}

// Track records id (if non-empty) and returns a future that resolves when a
// matching Ack arrives. An empty id means fire-and-forget: the returned
// future is already resolved and nothing is recorded.
func (r *Registry) Track(id string) *future.Future[*proto.Ack] {
	if id == "" {
		return future.Completed[*proto.Ack](&proto.Ack{Success: true})
	}
	f := future.New[*proto.Ack]()
	r.pending.Set(id, f)
	metrics.PendingInstructions.WithLabelValues(r.channel).Set(float64(r.pending.Len()))
	return f
}

// Ack resolves and removes the pending entry for id, if any. A duplicate or
// late ack (id absent) is a no-op, matching the at-most-once delivery
// contract.
func (r *Registry) Ack(id string, ack *proto.Ack) {
	if id == "" {
		return
	}
	f, ok := r.pending.Get(id)
	if !ok {
		return
	}
	r.pending.Del(id)
	metrics.PendingInstructions.WithLabelValues(r.channel).Set(float64(r.pending.Len()))
	if ack.Success {
		f.Resolve(ack)
		return
	}
	f.Fail(proto.NewDispatchError(ack.ErrorCode, ack.ErrorMessage))
}

// FailAll drains every pending entry and fails each one with cause. Safe to
// call concurrently with Track and Ack: future.Fail/Resolve is single-
// assignment, so an entry racing between an Ack and FailAll is resolved
// exactly once regardless of which call observes it first.
func (r *Registry) FailAll(cause error) {
	var ids []string
	r.pending.ForEach(func(id string, f *future.Future[*proto.Ack]) bool {
		ids = append(ids, id)
		f.Fail(cause)
		return true
	})
	for _, id := range ids {
		r.pending.Del(id)
	}
	metrics.PendingInstructions.WithLabelValues(r.channel).Set(float64(r.pending.Len()))
}

// Len reports the number of instructions currently awaiting an ack, used by
// tests and the metrics gauge.
func (r *Registry) Len() int {
	return int(r.pending.Len())
}
