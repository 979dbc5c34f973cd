// Package framepool recycles the *proto.Frame and *proto.Ack values
// allocated on the ack hot path: one dispatch call per inbound instruction
// competes for the goroutine's allocator, and both types are fixed-shape
// enough to reset and return to a sync.Pool.
//
// Grounded on the teacher's services/pool.GenericPool: a small generic
// wrapper over sync.Pool, plus a handful of typed pools and Reset helpers
// (there for ds.ClientMessage/ds.ControlPlaneMessage/common.IntermittenMsg,
// here for proto.Frame/proto.Ack).
package framepool

import (
	"sync"

	"github.com/riftline/axonconnect/internal/proto"
)

// GenericPool wraps sync.Pool with a typed factory, avoiding the interface{}
// cast at every call site.
type GenericPool[T any] struct {
	pool *sync.Pool
}

// NewGenericPool builds a GenericPool whose zero value is produced by
// factory.
func NewGenericPool[T any](factory func() T) *GenericPool[T] {
	return &GenericPool[T]{pool: &sync.Pool{New: func() any { return factory() }}}
}

// Get retrieves an object from the pool or creates a new one.
func (p *GenericPool[T]) Get() T {
	return p.pool.Get().(T)
}

// Put returns an object to the pool.
func (p *GenericPool[T]) Put(obj T) {
	p.pool.Put(obj)
}

// Pool holds the ack-path object pools.
type Pool struct {
	Frame *GenericPool[*proto.Frame]
	Ack   *GenericPool[*proto.Ack]
}

// New builds an empty Pool.
func New() *Pool {
	return &Pool{
		Frame: NewGenericPool(func() *proto.Frame { return &proto.Frame{} }),
		Ack:   NewGenericPool(func() *proto.Ack { return &proto.Ack{} }),
	}
}

// ResetAck clears ack for reuse and returns it to the pool.
func (p *Pool) ResetAck(ack *proto.Ack) {
	*ack = proto.Ack{}
	p.Ack.Put(ack)
}

// ResetFrame clears frame for reuse and returns it to the pool. It does not
// reset frame.Ack/Command/etc payload pointers beyond nilling them, since
// those are owned and reset by their own pools.
func (p *Pool) ResetFrame(frame *proto.Frame) {
	*frame = proto.Frame{}
	p.Frame.Put(frame)
}

var global = New()

// Global returns the process-wide ack-path pool.
func Global() *Pool {
	return global
}
