// Package streamholder implements the single-slot outbound stream holder:
// a single-cell reference to whichever send side of a bidi stream is
// currently authoritative for a channel, plus the mutex that serializes
// sends into it.
//
// Grounded on the teacher's wsWriteChanManager, which pairs one connection
// with one dedicated writer and guards concurrent producers; the same
// problem here (many goroutines calling sendCommand/registerHandler
// concurrently, one underlying gRPC stream that is not safe for concurrent
// SendMsg) is solved with a mutex-guarded single cell instead of a
// writer-goroutine-and-channel, since the spec calls for the caller's send
// to fail synchronously rather than via a detached writer loop.
package streamholder

import (
	"errors"
	"sync"
)

// ErrNoActiveStream is returned by Send when no stream is currently held.
var ErrNoActiveStream = errors.New("streamholder: no active stream")

// Sender is the minimal send-side contract a bidi stream must satisfy to be
// held here. The concrete type is whatever the transport package's gRPC
// stream wrapper provides.
type Sender[T any] interface {
	Send(T) error
	CloseSend() error
}

// Holder is a single-cell reference to the currently authoritative Sender.
// Reads and compare-and-swaps are all taken under one mutex, so from the
// caller's perspective exactly one stream is ever authoritative at a time
// even under concurrent GetAndSet/CompareAndSwap calls.
type Holder[T any, S Sender[T]] struct {
	mu      sync.Mutex
	current S
	set     bool
	sendMu  sync.Mutex
}

// New returns an empty Holder.
func New[T any, S Sender[T]]() *Holder[T, S] {
	return &Holder[T, S]{}
}

// Get returns the currently held sender, or the zero value and false if
// none is set.
func (h *Holder[T, S]) Get() (S, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current, h.set
}

// CompareAndSwap atomically replaces old with next, returning false without
// effect if the current value is not old. Comparison is by the underlying
// interface value (pointer identity for the concrete stream wrappers this
// is used with).
func (h *Holder[T, S]) CompareAndSwap(old, next S) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.set || any(h.current) != any(old) {
		return false
	}
	h.current = next
	h.set = true
	return true
}

// GetAndSet installs next as the authoritative sender and returns whatever
// was previously held (hadPrevious is false if nothing was held). Callers
// use the previous value to send an orderly end-of-stream after the swap.
func (h *Holder[T, S]) GetAndSet(next S) (previous S, hadPrevious bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	previous, hadPrevious = h.current, h.set
	h.current = next
	h.set = true
	return previous, hadPrevious
}

// Clear removes the held sender, e.g. on disconnect.
func (h *Holder[T, S]) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	var zero S
	h.current = zero
	h.set = false
}

// Send serializes the actual wire send against concurrent callers (the
// underlying stream's Send is assumed not safe for concurrent use) and
// fails fast if no stream is currently held.
func (h *Holder[T, S]) Send(msg T) error {
	s, ok := h.Get()
	if !ok {
		return ErrNoActiveStream
	}
	h.sendMu.Lock()
	defer h.sendMu.Unlock()
	return s.Send(msg)
}
