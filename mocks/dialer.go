// Package mocks holds hand-written testify mocks for the connector's
// external collaborators, grounded on the teacher's mocks package
// (MockPubSubProvider, MockCentralisedSubscriber) which mocks every service
// interface the same way: embed mock.Mock, forward each method to Called.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/riftline/axonconnect/internal/proto"
	"github.com/riftline/axonconnect/transport"
)

// MockDialer is a testify mock of transport.Dialer.
type MockDialer struct {
	mock.Mock
}

func (m *MockDialer) OpenCommandStream(ctx context.Context) (transport.BidiStream, error) {
	args := m.Called(ctx)
	stream, _ := args.Get(0).(transport.BidiStream)
	return stream, args.Error(1)
}

func (m *MockDialer) OpenQueryStream(ctx context.Context) (transport.BidiStream, error) {
	args := m.Called(ctx)
	stream, _ := args.Get(0).(transport.BidiStream)
	return stream, args.Error(1)
}

func (m *MockDialer) OpenSubscriptionStream(ctx context.Context) (transport.BidiStream, error) {
	args := m.Called(ctx)
	stream, _ := args.Get(0).(transport.BidiStream)
	return stream, args.Error(1)
}

func (m *MockDialer) DispatchCommand(ctx context.Context, cmd *proto.Command) (*proto.CommandResponse, error) {
	args := m.Called(ctx, cmd)
	resp, _ := args.Get(0).(*proto.CommandResponse)
	return resp, args.Error(1)
}

func (m *MockDialer) Query(ctx context.Context, q *proto.Query) (transport.ServerStream, error) {
	args := m.Called(ctx, q)
	stream, _ := args.Get(0).(transport.ServerStream)
	return stream, args.Error(1)
}

func (m *MockDialer) Close() error {
	args := m.Called()
	return args.Error(0)
}
