package command_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/riftline/axonconnect/command"
	"github.com/riftline/axonconnect/internal/identity"
	"github.com/riftline/axonconnect/internal/proto"
	"github.com/riftline/axonconnect/mocks"
)

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.FailNow(t, "condition never became true")
}

func newChannel(t *testing.T, dialer *mocks.MockDialer) *command.Channel {
	t.Helper()
	return command.New(command.Config{
		Identity:    identity.ClientIdentity{ClientID: "client-1", ComponentName: "demo"},
		Dialer:      dialer,
		Backoff:     5 * time.Millisecond,
		Permits:     10,
		RefillBatch: 5,
	})
}

func TestSendCommandSynthesizesRoutingKeyAndStampsIdentity(t *testing.T) {
	dialer := new(mocks.MockDialer)
	dialer.On("DispatchCommand", mock.Anything, mock.AnythingOfType("*proto.Command")).
		Return(&proto.CommandResponse{RequestIdentifier: "m1", Payload: []byte("ok")}, nil)

	ch := newChannel(t, dialer)
	cmd := &proto.Command{MessageID: "m1", Name: "Greet"}
	resp, err := ch.SendCommand(context.Background(), cmd)
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), resp.Payload)

	require.Equal(t, "client-1", cmd.ClientID)
	require.Equal(t, "demo", cmd.ComponentName)
	key, ok := cmd.RoutingKey()
	require.True(t, ok)
	require.Equal(t, "m1", key)

	dialer.AssertExpectations(t)
}

func TestSendCommandNoResponseIsDispatchError(t *testing.T) {
	dialer := new(mocks.MockDialer)
	dialer.On("DispatchCommand", mock.Anything, mock.Anything).Return(nil, nil)

	ch := newChannel(t, dialer)
	_, err := ch.SendCommand(context.Background(), &proto.Command{Name: "Greet"})
	require.Error(t, err)

	var de *proto.DispatchError
	require.True(t, errors.As(err, &de))
	require.Equal(t, proto.ErrCommandDispatch, de.Category)
	require.Equal(t, "reply completed without result", de.Message)
}

func TestSendCommandTransportFailureIsDispatchError(t *testing.T) {
	dialer := new(mocks.MockDialer)
	dialer.On("DispatchCommand", mock.Anything, mock.Anything).Return(nil, errors.New("conn refused"))

	ch := newChannel(t, dialer)
	_, err := ch.SendCommand(context.Background(), &proto.Command{Name: "Unknown"})
	require.Error(t, err)

	var de *proto.DispatchError
	require.True(t, errors.As(err, &de))
	require.Equal(t, proto.ErrCommandDispatch, de.Category)
}

func TestRegisterHandlerAckCorrelatesAndReconnectResubscribes(t *testing.T) {
	dialer := new(mocks.MockDialer)
	stream1 := mocks.NewFakeBidiStream(8)
	stream2 := mocks.NewFakeBidiStream(8)
	dialer.On("OpenCommandStream", mock.Anything).Return(stream1, nil).Once()
	dialer.On("OpenCommandStream", mock.Anything).Return(stream2, nil).Once()

	ch := newChannel(t, dialer)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch.Connect(ctx)
	eventually(t, ch.IsConnected)

	reg := ch.RegisterHandler(func(ctx context.Context, cmd *proto.Command) ([]byte, error) {
		return []byte("pong"), nil
	}, 1, "Greet")

	var subscribeID string
	eventually(t, func() bool {
		for _, f := range stream1.Outbox() {
			if f.Kind == proto.KindSubscribe && f.Subscribe.Command == "Greet" {
				subscribeID = f.InstructionID
				return true
			}
		}
		return false
	})

	stream1.Push(&proto.Frame{
		Kind:          proto.KindAck,
		InstructionID: subscribeID,
		Ack:           &proto.Ack{InstructionID: subscribeID, Success: true},
	})
	require.NoError(t, reg.Wait(ctx))

	// Simulate transport loss: the dispatch loop observes io.EOF and the
	// supervisor reconnects onto stream2, replaying the Greet subscription.
	stream1.CloseInbox()

	eventually(t, func() bool {
		for _, f := range stream2.Outbox() {
			if f.Kind == proto.KindSubscribe && f.Subscribe.Command == "Greet" {
				return true
			}
		}
		return false
	})
}

func TestInboundCommandWithHandlerSendsAckThenResponse(t *testing.T) {
	dialer := new(mocks.MockDialer)
	stream := mocks.NewFakeBidiStream(8)
	dialer.On("OpenCommandStream", mock.Anything).Return(stream, nil).Once()

	ch := newChannel(t, dialer)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch.Connect(ctx)
	eventually(t, ch.IsConnected)

	ch.RegisterHandler(func(ctx context.Context, cmd *proto.Command) ([]byte, error) {
		return []byte("hi " + cmd.Name), nil
	}, 1, "Greet")

	stream.Push(&proto.Frame{
		Kind:          proto.KindCommand,
		InstructionID: "inbound-1",
		Command:       &proto.Command{MessageID: "m2", Name: "Greet"},
	})

	eventually(t, func() bool {
		responded, completed := false, false
		for _, f := range stream.Outbox() {
			if f.Kind == proto.KindCommandResponse && f.CommandResponse.RequestIdentifier == "m2" {
				responded = true
			}
			if f.Kind == proto.KindStreamComplete && f.StreamComplete.RequestIdentifier == "inbound-1" {
				completed = true
			}
		}
		return responded && completed
	})
}

func TestInboundCommandWithoutHandlerRespondsNoHandler(t *testing.T) {
	dialer := new(mocks.MockDialer)
	stream := mocks.NewFakeBidiStream(8)
	dialer.On("OpenCommandStream", mock.Anything).Return(stream, nil).Once()

	ch := newChannel(t, dialer)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch.Connect(ctx)
	eventually(t, ch.IsConnected)

	stream.Push(&proto.Frame{
		Kind:          proto.KindCommand,
		InstructionID: "inbound-2",
		Command:       &proto.Command{MessageID: "m2", Name: "Unknown"},
	})

	eventually(t, func() bool {
		nacked := false
		for _, f := range stream.Outbox() {
			if f.Kind == proto.KindAck && f.Ack.InstructionID == "inbound-2" {
				require.False(t, f.Ack.Success)
				require.Equal(t, proto.ErrNoHandlerForCommand, f.Ack.ErrorCode)
				nacked = true
			}
		}
		if !nacked {
			return false
		}
		for _, f := range stream.Outbox() {
			if f.Kind == proto.KindCommandResponse && f.CommandResponse.RequestIdentifier == "m2" {
				require.Equal(t, proto.ErrNoHandlerForCommand, f.CommandResponse.ErrorCode)
				return true
			}
		}
		return false
	})
}

func TestCancelUnregisterDoesNotAffectReRegistration(t *testing.T) {
	dialer := new(mocks.MockDialer)
	stream := mocks.NewFakeBidiStream(16)
	dialer.On("OpenCommandStream", mock.Anything).Return(stream, nil).Once()

	ch := newChannel(t, dialer)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch.Connect(ctx)
	eventually(t, ch.IsConnected)

	firstReg := ch.RegisterHandler(func(ctx context.Context, cmd *proto.Command) ([]byte, error) {
		return nil, nil
	}, 1, "Greet")

	// A second registration for the same name takes over the slot before the
	// first is cancelled.
	ch.RegisterHandler(func(ctx context.Context, cmd *proto.Command) ([]byte, error) {
		return nil, nil
	}, 1, "Greet")

	firstReg.Cancel(ctx)

	stream.Push(&proto.Frame{
		Kind:          proto.KindCommand,
		InstructionID: "inbound-3",
		Command:       &proto.Command{MessageID: "m3", Name: "Greet"},
	})

	eventually(t, func() bool {
		for _, f := range stream.Outbox() {
			if f.Kind == proto.KindCommandResponse && f.CommandResponse.RequestIdentifier == "m3" {
				require.NotEqual(t, proto.ErrNoHandlerForCommand, f.CommandResponse.ErrorCode)
				return true
			}
		}
		return false
	})
}
