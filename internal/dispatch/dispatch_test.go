package dispatch

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftline/axonconnect/internal/flowcontrol"
	"github.com/riftline/axonconnect/internal/proto"
)

type fakeReceiver struct {
	mu     sync.Mutex
	frames []*proto.Frame
	idx    int
}

func (f *fakeReceiver) Recv() (*proto.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.frames) {
		return nil, io.EOF
	}
	fr := f.frames[f.idx]
	f.idx++
	return fr, nil
}

type fakeSender struct {
	mu  sync.Mutex
	out []*proto.Frame
}

func (s *fakeSender) Send(f *proto.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Snapshot the frame like a real stream does: SendAck/SendNack hand the
	// frame and its Ack back to framepool as soon as Send returns.
	clone := *f
	if f.Ack != nil {
		ack := *f.Ack
		clone.Ack = &ack
	}
	s.out = append(s.out, &clone)
	return nil
}

func (s *fakeSender) snapshot() []*proto.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*proto.Frame, len(s.out))
	copy(out, s.out)
	return out
}

func TestUnknownFrameKindNacksAndContinues(t *testing.T) {
	recv := &fakeReceiver{frames: []*proto.Frame{
		{Kind: proto.KindUnknown, InstructionID: "x"},
	}}
	out := &fakeSender{}
	var disconnectCause error

	loop := New(Config{
		Channel:  "test",
		Recv:     recv,
		Handlers: map[proto.Kind]Handler{},
		ReplyFor: func(f *proto.Frame) ReplyChannel {
			return NewReplyChannel(out, f.InstructionID)
		},
		Governor:     flowcontrol.New("test", 10, 5, func(int64) {}),
		OnDisconnect: func(err error) { disconnectCause = err },
	})

	loop.Run(context.Background())

	frames := out.snapshot()
	require.Len(t, frames, 1)
	assert.Equal(t, proto.KindAck, frames[0].Kind)
	assert.False(t, frames[0].Ack.Success)
	assert.Equal(t, "x", frames[0].InstructionID)
	assert.ErrorIs(t, disconnectCause, io.EOF)
}

func TestKnownFrameKindDispatchedAndPermitConsumed(t *testing.T) {
	recv := &fakeReceiver{frames: []*proto.Frame{
		{Kind: proto.KindCommand, InstructionID: "i1", Command: &proto.Command{Name: "Ping"}},
	}}
	out := &fakeSender{}
	var invoked bool

	var consumedAfter int64
	loop := New(Config{
		Channel: "test",
		Recv:    recv,
		Handlers: map[proto.Kind]Handler{
			proto.KindCommand: func(ctx context.Context, f *proto.Frame, reply ReplyChannel) {
				invoked = true
				reply.SendAck(f.InstructionID, nil)
			},
		},
		ReplyFor: func(f *proto.Frame) ReplyChannel {
			return NewReplyChannel(out, f.InstructionID)
		},
		Governor: flowcontrol.New("test", 10, 1, func(delta int64) {
			consumedAfter = delta
		}),
		OnDisconnect: func(error) {},
	})

	loop.Run(context.Background())

	assert.True(t, invoked)
	assert.Equal(t, int64(1), consumedAfter, "batch of 1 refills after the single dispatched frame")
	frames := out.snapshot()
	require.Len(t, frames, 1)
	assert.True(t, frames[0].Ack.Success)
}

func TestDisconnectHandlerInvokedExactlyOnce(t *testing.T) {
	recv := &fakeReceiver{frames: nil}
	var calls int
	loop := New(Config{
		Channel:      "test",
		Recv:         recv,
		Handlers:     map[proto.Kind]Handler{},
		ReplyFor:     func(f *proto.Frame) ReplyChannel { return NewReplyChannel(&fakeSender{}, f.InstructionID) },
		Governor:     flowcontrol.New("test", 10, 5, func(int64) {}),
		OnDisconnect: func(error) { calls++ },
	})

	loop.Run(context.Background())
	assert.Equal(t, 1, calls)
}

func TestDispatchErrorNackCarriesCategory(t *testing.T) {
	out := &fakeSender{}
	reply := NewReplyChannel(out, "abc")
	reply.SendAck("abc", errors.New("plain error"))

	frames := out.snapshot()
	require.Len(t, frames, 1)
	assert.Equal(t, proto.ErrCommandExecution, frames[0].Ack.ErrorCode)
}
