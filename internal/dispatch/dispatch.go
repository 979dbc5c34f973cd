// Package dispatch implements the incoming instruction stream: the single
// goroutine per channel that reads inbound frames in receive order,
// dispatches them by frame kind, and meters flow control on the dispatch
// pump rather than on user-handler latency.
//
// Grounded on the teacher's ProcessMessagesFromClient read loop
// (services/websocketBridge/websocketBridge.go), which is exactly this
// shape: one dedicated goroutine blocked in a for loop reading frames,
// switching on a control-plane operation code, and never itself blocking on
// downstream work.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/riftline/axonconnect/internal/flowcontrol"
	"github.com/riftline/axonconnect/internal/proto"
	"github.com/riftline/axonconnect/metrics"
)

// Receiver is the minimal receive-side contract an inbound bidi stream must
// satisfy.
type Receiver interface {
	Recv() (*proto.Frame, error)
}

// ReplyChannel is the callback interface an incoming-frame handler uses to
// emit outbound replies, wrapping the owning channel's outbound stream
// holder with convenience helpers. Implementations are supplied by the
// owning channel (command.Channel, query.Channel).
type ReplyChannel interface {
	Send(*proto.Frame) error
	SendAck(instructionID string, err error)
	SendNack(instructionID string, category, message string)
	Complete()
	CompleteWithError(err error)
}

// Handler processes one inbound frame of a given kind.
type Handler func(ctx context.Context, f *proto.Frame, reply ReplyChannel)

// Loop is the per-channel incoming instruction stream.
type Loop struct {
	channel    string
	recv       Receiver
	handlers   map[proto.Kind]Handler
	replyFor   func(*proto.Frame) ReplyChannel
	governor   *flowcontrol.Governor
	onDisconnect func(error)
}

// Config bundles the construction parameters for a Loop.
type Config struct {
	Channel      string
	Recv         Receiver
	Handlers     map[proto.Kind]Handler
	ReplyFor     func(*proto.Frame) ReplyChannel
	Governor     *flowcontrol.Governor
	OnDisconnect func(error)
}

// New constructs a Loop from cfg.
func New(cfg Config) *Loop {
	return &Loop{
		channel:      cfg.Channel,
		recv:         cfg.Recv,
		handlers:     cfg.Handlers,
		replyFor:     cfg.ReplyFor,
		governor:     cfg.Governor,
		onDisconnect: cfg.OnDisconnect,
	}
}

// instructionID extracts the optional instructionId carried by F, per frame
// kind.
func instructionID(f *proto.Frame) string {
	return f.InstructionID
}

// Run processes frames in receive order until the stream ends or ctx is
// cancelled. It invokes onDisconnect exactly once, with the terminating
// cause, and never re-enters afterward.
func (l *Loop) Run(ctx context.Context) {
	logger := slogctx.FromCtx(ctx).With("component", "dispatch", "channel", l.channel)

	for {
		frame, err := l.recv.Recv()
		if err != nil {
			logger.InfoContext(ctx, "incoming stream ended", "err", err)
			l.onDisconnect(err)
			return
		}

		start := time.Now()
		l.dispatchOne(ctx, logger, frame)
		metrics.DispatchLatency.WithLabelValues(l.channel).Observe(float64(time.Since(start).Milliseconds()))
		l.governor.ConsumeOne()

		select {
		case <-ctx.Done():
			l.onDisconnect(ctx.Err())
			return
		default:
		}
	}
}

func (l *Loop) dispatchOne(ctx context.Context, logger *slog.Logger, frame *proto.Frame) {
	handler, ok := l.handlers[frame.Kind]
	if !ok {
		logger.WarnContext(ctx, "unknown frame kind, nacking", "kind", frame.Kind)
		reply := l.replyFor(frame)
		reply.SendNack(instructionID(frame), "UNSUPPORTED_INSTRUCTION", "no dispatch routine for frame kind")
		return
	}

	reply := l.replyFor(frame)
	handler(ctx, frame, reply)
}
