package mocks

import (
	"io"
	"sync"

	"github.com/riftline/axonconnect/internal/proto"
)

// FakeBidiStream is a channel-backed transport.BidiStream double for
// exercising the channel runtime without a real AxonServer: Send appends to
// an observable outbox, and Recv drains a queue the test feeds via Push,
// returning io.EOF once the queue is exhausted and the stream closed.
//
// This complements MockDialer (a testify mock.Mock) the same way the
// teacher's own tests mix mock.Mock-based mocks with a real embedded
// dependency (miniredis, gorilla's httptest websocket server) when a
// strict call-count mock would be too brittle for streaming behavior.
type FakeBidiStream struct {
	mu     sync.Mutex
	inbox  chan *proto.Frame
	outbox []*proto.Frame
	closed bool
}

// NewFakeBidiStream constructs a FakeBidiStream with the given inbound
// queue capacity.
func NewFakeBidiStream(capacity int) *FakeBidiStream {
	return &FakeBidiStream{inbox: make(chan *proto.Frame, capacity)}
}

// Push enqueues a frame for a future Recv call to return.
func (f *FakeBidiStream) Push(frame *proto.Frame) {
	f.inbox <- frame
}

// CloseInbox signals that no more frames will be pushed; subsequent Recv
// calls return io.EOF once the queue drains.
func (f *FakeBidiStream) CloseInbox() {
	close(f.inbox)
}

func (f *FakeBidiStream) Send(frame *proto.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return io.ErrClosedPipe
	}
	f.outbox = append(f.outbox, cloneFrame(frame))
	return nil
}

// cloneFrame snapshots frame and its populated payload, matching a real gRPC
// stream's Send: the wire bytes are fully marshalled before Send returns, so
// the caller is free to reuse or pool the frame afterward (internal/dispatch
// does this for proto.Frame/proto.Ack on the ack-reply hot path).
func cloneFrame(frame *proto.Frame) *proto.Frame {
	clone := *frame
	if frame.Ack != nil {
		ack := *frame.Ack
		clone.Ack = &ack
	}
	if frame.Command != nil {
		cmd := *frame.Command
		clone.Command = &cmd
	}
	if frame.CommandResponse != nil {
		cr := *frame.CommandResponse
		clone.CommandResponse = &cr
	}
	if frame.Query != nil {
		q := *frame.Query
		clone.Query = &q
	}
	if frame.QueryResponse != nil {
		qr := *frame.QueryResponse
		clone.QueryResponse = &qr
	}
	if frame.StreamComplete != nil {
		sc := *frame.StreamComplete
		clone.StreamComplete = &sc
	}
	if frame.SubscriptionQueryRequest != nil {
		sqr := *frame.SubscriptionQueryRequest
		clone.SubscriptionQueryRequest = &sqr
	}
	if frame.SubscriptionQueryResponse != nil {
		sqr := *frame.SubscriptionQueryResponse
		clone.SubscriptionQueryResponse = &sqr
	}
	if frame.Subscribe != nil {
		s := *frame.Subscribe
		clone.Subscribe = &s
	}
	if frame.Unsubscribe != nil {
		u := *frame.Unsubscribe
		clone.Unsubscribe = &u
	}
	if frame.FlowControl != nil {
		fc := *frame.FlowControl
		clone.FlowControl = &fc
	}
	return &clone
}

func (f *FakeBidiStream) Recv() (*proto.Frame, error) {
	frame, ok := <-f.inbox
	if !ok {
		return nil, io.EOF
	}
	return frame, nil
}

func (f *FakeBidiStream) CloseSend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Outbox returns a snapshot of every frame sent so far.
func (f *FakeBidiStream) Outbox() []*proto.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*proto.Frame, len(f.outbox))
	copy(out, f.outbox)
	return out
}
