// Package transport is the one external collaborator this spec treats as
// out of scope in detail but still binds concretely: the managed,
// multiplexed RPC connection that every channel's bidi and unary calls run
// over.
//
// Grounded on google.golang.org/grpc, the transport library used by this
// pack's other gRPC-based connectors (msto63-mDW's cmd/mdw/cmd/grpcclient.go,
// weisyn-go-weisyn's service layer). The wire message types are the
// internal/proto tagged union standing in for generated protobuf stubs, so
// the interfaces below take *proto.Frame directly rather than generated
// request/response types.
package transport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/riftline/axonconnect/internal/proto"
)

// BidiStream is the send/receive contract for a long-lived bidirectional
// instruction stream (Command.openStream, Query.openStream,
// Query.subscription).
type BidiStream interface {
	Send(*proto.Frame) error
	Recv() (*proto.Frame, error)
	CloseSend() error
}

// ServerStream is the receive contract for a server-streaming RPC
// (Query.query).
type ServerStream interface {
	Recv() (*proto.Frame, error)
}

// Dialer opens the RPCs this spec's channels need. The underlying transport
// and its stub-generation layer are out of scope; this interface is the
// seam the channel runtime programs against.
type Dialer interface {
	// OpenCommandStream opens the Command channel's bidi instruction stream.
	OpenCommandStream(ctx context.Context) (BidiStream, error)
	// OpenQueryStream opens the Query channel's bidi instruction stream.
	OpenQueryStream(ctx context.Context) (BidiStream, error)
	// OpenSubscriptionStream opens a Query.subscription bidi RPC for one
	// subscription query.
	OpenSubscriptionStream(ctx context.Context) (BidiStream, error)
	// DispatchCommand performs the unary Command.dispatch call.
	DispatchCommand(ctx context.Context, cmd *proto.Command) (*proto.CommandResponse, error)
	// Query performs the server-streaming Query.query call.
	Query(ctx context.Context, q *proto.Query) (ServerStream, error)
	// Close tears down the underlying connection.
	Close() error
}

// DialOptions configures a grpcDialer.
type DialOptions struct {
	Target             string
	TLSEnabled         bool
	TransportCredentials credentials.TransportCredentials
}

// grpcDialer is the concrete Dialer backed by a single *grpc.ClientConn,
// reused across all three channels per the spec's "single managed transport
// connection" requirement.
type grpcDialer struct {
	conn *grpc.ClientConn
}

// NewGRPCDialer opens a *grpc.ClientConn to opts.Target and returns a Dialer
// over it. The generated service stubs this would normally call through are
// out of scope for this spec (see internal/proto); OpenCommandStream and
// friends are implemented against the raw grpc.ClientConn.NewStream so this
// package has no dependency on generated code.
func NewGRPCDialer(ctx context.Context, opts DialOptions) (Dialer, error) {
	creds := opts.TransportCredentials
	if creds == nil {
		if opts.TLSEnabled {
			creds = credentials.NewTLS(nil)
		} else {
			creds = insecure.NewCredentials()
		}
	}

	conn, err := grpc.NewClient(opts.Target, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, err
	}
	return &grpcDialer{conn: conn}, nil
}

func (d *grpcDialer) openBidi(ctx context.Context, method string) (BidiStream, error) {
	stream, err := d.conn.NewStream(ctx, &grpc.StreamDesc{
		StreamName:    method,
		ServerStreams: true,
		ClientStreams: true,
	}, method)
	if err != nil {
		return nil, err
	}
	return &bidiStream{stream: stream}, nil
}

func (d *grpcDialer) OpenCommandStream(ctx context.Context) (BidiStream, error) {
	return d.openBidi(ctx, "/io.axoniq.axonserver.grpc.command.CommandService/OpenStream")
}

func (d *grpcDialer) OpenQueryStream(ctx context.Context) (BidiStream, error) {
	return d.openBidi(ctx, "/io.axoniq.axonserver.grpc.query.QueryService/OpenStream")
}

func (d *grpcDialer) OpenSubscriptionStream(ctx context.Context) (BidiStream, error) {
	return d.openBidi(ctx, "/io.axoniq.axonserver.grpc.query.QueryService/Subscription")
}

func (d *grpcDialer) DispatchCommand(ctx context.Context, cmd *proto.Command) (*proto.CommandResponse, error) {
	resp := new(proto.CommandResponse)
	err := d.conn.Invoke(ctx, "/io.axoniq.axonserver.grpc.command.CommandService/Dispatch", cmd, resp)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (d *grpcDialer) Query(ctx context.Context, q *proto.Query) (ServerStream, error) {
	stream, err := d.conn.NewStream(ctx, &grpc.StreamDesc{
		StreamName:    "/io.axoniq.axonserver.grpc.query.QueryService/Query",
		ServerStreams: true,
	}, "/io.axoniq.axonserver.grpc.query.QueryService/Query")
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(q); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &serverStream{stream: stream}, nil
}

func (d *grpcDialer) Close() error {
	return d.conn.Close()
}

type bidiStream struct {
	stream grpc.ClientStream
}

func (b *bidiStream) Send(f *proto.Frame) error { return b.stream.SendMsg(f) }
func (b *bidiStream) Recv() (*proto.Frame, error) {
	f := new(proto.Frame)
	if err := b.stream.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}
func (b *bidiStream) CloseSend() error { return b.stream.CloseSend() }

type serverStream struct {
	stream grpc.ClientStream
}

func (s *serverStream) Recv() (*proto.Frame, error) {
	f := new(proto.Frame)
	if err := s.stream.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}
