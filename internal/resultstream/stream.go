// Package resultstream implements the buffered, back-pressured consumer
// stream that every server-streaming or subscription-update result is
// funneled through.
//
// Grounded directly on the teacher's bounded-channel-as-backpressure idiom:
// centralisedSubscriber's fanoutCh and http/server.go's jobQueue are both
// fixed-capacity channels that a producer writes into and a pool of
// consumers drains, with a non-blocking send used to avoid stalling the
// producer. This package gives that shape a single reusable, generic
// implementation plus the sentinel-terminal-value semantics the spec calls
// for.
package resultstream

import (
	"context"
	"sync"

	"github.com/riftline/axonconnect/internal/flowcontrol"
)

type item[T any] struct {
	value    T
	err      error
	terminal bool
}

// Stream is a producer/consumer buffer with bounded credit. The producer
// side (Push/Fail/Close) is used by the incoming-frame dispatcher; the
// consumer side (Next) is used by user code.
type Stream[T any] struct {
	items    chan item[T]
	governor *flowcontrol.Governor
	closed   chan struct{}
	closeOnce sync.Once
}

// New constructs a Stream with capacity initialPermits. refill is invoked
// with the refillBatch delta as the consumer drains elements; pass a no-op
// refill for one-way (non-flow-controlled) transports such as a unary
// response.
func New[T any](initialPermits, refillBatch int64, refill flowcontrol.RefillFunc) *Stream[T] {
	if refill == nil {
		refill = func(int64) {}
	}
	return &Stream[T]{
		items:    make(chan item[T], initialPermits),
		governor: flowcontrol.New("resultstream", initialPermits, refillBatch, refill),
		closed:   make(chan struct{}),
	}
}

// Push delivers value to the consumer. It blocks if the buffer is full,
// which only happens if the consumer is not keeping pace; callers that must
// never block (the dispatch loop) should run Push in its own goroutine or
// ensure producers are rate-limited by the permits already granted.
func (s *Stream[T]) Push(ctx context.Context, value T) {
	select {
	case s.items <- item[T]{value: value}:
	case <-s.closed:
	case <-ctx.Done():
	}
}

// Fail records a terminal error, delivered to the consumer on the next read.
func (s *Stream[T]) Fail(err error) {
	select {
	case s.items <- item[T]{err: err, terminal: true}:
	case <-s.closed:
	}
}

// Complete marks normal completion. See item.terminal: the
// completion state is carried as a flag on the element's sum type rather
// than a distinct magic value of T, per the spec's own suggested
// alternative.
func (s *Stream[T]) Complete() {
	select {
	case s.items <- item[T]{terminal: true}:
	case <-s.closed:
	}
}

// Next blocks until an element, a terminal error, or normal completion is
// available. ok is false once the stream has reached its terminal state;
// err is non-nil only when the terminal state is itself an error.
func (s *Stream[T]) Next(ctx context.Context) (value T, err error, ok bool) {
	select {
	case it, open := <-s.items:
		if !open {
			var zero T
			return zero, nil, false
		}
		if it.terminal {
			var zero T
			return zero, it.err, false
		}
		s.governor.ConsumeOne()
		return it.value, nil, true
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err(), false
	}
}

// Close detaches the consumer side without cancelling the originating RPC;
// used for one-way streams where the producer may still be draining.
func (s *Stream[T]) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// EnableFlowControl sends the initial permit grant; see flowcontrol.Governor.
func (s *Stream[T]) EnableFlowControl() {
	s.governor.EnableFlowControl()
}
