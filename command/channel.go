// Package command implements the Command Channel: outbound unary command
// dispatch, inbound command routing to locally registered handlers, and the
// subscribe/unsubscribe lifecycle that advertises those handlers to the
// server.
//
// Grounded on the teacher's centralisedSubscriber for the "first/last
// reference count gates a wire (un)subscribe" pattern, and on
// wsWriteChanManager for the per-entity registry keyed by name.
package command

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/riftline/axonconnect/internal/dispatch"
	"github.com/riftline/axonconnect/internal/flowcontrol"
	"github.com/riftline/axonconnect/internal/future"
	"github.com/riftline/axonconnect/internal/identity"
	"github.com/riftline/axonconnect/internal/proto"
	"github.com/riftline/axonconnect/internal/reconnect"
	"github.com/riftline/axonconnect/internal/registry"
	"github.com/riftline/axonconnect/internal/streamholder"
	"github.com/riftline/axonconnect/transport"
)

// HandlerFunc processes one inbound command and returns its response
// payload. An error is converted into a COMMAND_EXECUTION_ERROR
// CommandResponse, never a transport failure.
type HandlerFunc func(ctx context.Context, cmd *proto.Command) ([]byte, error)

// entry is the registry's value type. Registration.Cancel compares the
// *entry pointer it installed against whatever is currently registered for
// that name, so a later re-registration of the same name is never clobbered
// by a stale Cancel.
type entry struct {
	handler    HandlerFunc
	loadFactor int32
}

// Config bundles the construction parameters for a Channel.
type Config struct {
	Identity    identity.ClientIdentity
	Dialer      transport.Dialer
	Backoff     time.Duration
	Permits     int64
	RefillBatch int64
}

// Channel is the Command Channel.
type Channel struct {
	identity identity.ClientIdentity
	dialer   transport.Dialer

	mu       sync.RWMutex
	handlers map[string]*entry

	outbound   *streamholder.Holder[*proto.Frame, transport.BidiStream]
	pending    *registry.Registry
	governor   *flowcontrol.Governor
	supervisor *reconnect.Supervisor
}

// New constructs a disconnected Channel. Call Connect to start the reconnect
// supervisor.
func New(cfg Config) *Channel {
	c := &Channel{
		identity: cfg.Identity,
		dialer:   cfg.Dialer,
		handlers: make(map[string]*entry),
		outbound: streamholder.New[*proto.Frame, transport.BidiStream](),
		pending:  registry.New("command"),
	}
	c.governor = flowcontrol.New("command", cfg.Permits, cfg.RefillBatch, c.sendFlowControl)
	c.supervisor = reconnect.New("command", cfg.Backoff, reconnect.Callbacks{
		Open:        c.open,
		OnConnected: c.onConnected,
		FailPending: c.pending.FailAll,
	})
	return c
}

// Connect starts the reconnect supervisor's first connect attempt.
func (c *Channel) Connect(ctx context.Context) { c.supervisor.Connect(ctx) }

// IsConnected reports whether the outbound instruction stream is currently
// up.
func (c *Channel) IsConnected() bool { return c.supervisor.IsConnected() }

func (c *Channel) open(ctx context.Context) error {
	stream, err := c.dialer.OpenCommandStream(ctx)
	if err != nil {
		return err
	}
	if previous, ok := c.outbound.GetAndSet(stream); ok {
		_ = previous.CloseSend()
	}

	loop := dispatch.New(dispatch.Config{
		Channel: "command",
		Recv:    stream,
		Handlers: map[proto.Kind]dispatch.Handler{
			proto.KindCommand: c.handleInboundCommand,
			proto.KindAck:     c.handleAck,
		},
		ReplyFor: func(f *proto.Frame) dispatch.ReplyChannel {
			return dispatch.NewReplyChannel(c.outbound, f.InstructionID)
		},
		Governor:     c.governor,
		OnDisconnect: func(cause error) { c.supervisor.ReconnectWithCause(ctx, cause) },
	})
	go loop.Run(ctx)
	return nil
}

func (c *Channel) onConnected(ctx context.Context) {
	c.governor.EnableFlowControl()

	c.mu.RLock()
	names := make([]string, 0, len(c.handlers))
	for name := range c.handlers {
		names = append(names, name)
	}
	c.mu.RUnlock()

	for _, name := range names {
		c.sendSubscribe(ctx, name)
	}
}

func (c *Channel) sendFlowControl(delta int64) {
	_ = c.outbound.Send(&proto.Frame{
		Kind:        proto.KindFlowControl,
		FlowControl: &proto.FlowControl{ClientID: c.identity.ClientID, Permits: delta},
	})
}

func (c *Channel) sendSubscribe(ctx context.Context, name string) *future.Future[*proto.Ack] {
	c.mu.RLock()
	e, ok := c.handlers[name]
	c.mu.RUnlock()
	if !ok {
		return future.Completed[*proto.Ack](&proto.Ack{Success: true})
	}

	id := uuid.NewString()
	f := c.pending.Track(id)
	frame := &proto.Frame{
		Kind:          proto.KindSubscribe,
		InstructionID: id,
		Subscribe: &proto.Subscribe{
			MessageID:     id,
			Command:       name,
			ClientID:      c.identity.ClientID,
			ComponentName: c.identity.ComponentName,
			LoadFactor:    e.loadFactor,
		},
	}
	if err := c.outbound.Send(frame); err != nil {
		f.Fail(proto.NewDispatchError(proto.ErrCommandDispatch, err.Error()))
	}
	return f
}

func (c *Channel) sendUnsubscribe(ctx context.Context, name string) *future.Future[*proto.Ack] {
	id := uuid.NewString()
	f := c.pending.Track(id)
	frame := &proto.Frame{
		Kind:          proto.KindUnsubscribe,
		InstructionID: id,
		Unsubscribe:   &proto.Unsubscribe{MessageID: id, Command: name},
	}
	if err := c.outbound.Send(frame); err != nil {
		f.Fail(proto.NewDispatchError(proto.ErrCommandDispatch, err.Error()))
	}
	return f
}

// Registration is returned by RegisterHandler. Wait resolves once every
// name's Subscribe has been acked (the conjunction of all per-name acks);
// Cancel unsubscribes every name whose registered handler still matches this
// registration.
type Registration struct {
	channel *Channel
	entries map[string]*entry
	acks    []*future.Future[*proto.Ack]
}

// Wait blocks until every name in this registration has been acked, or
// returns the first failure encountered.
func (r *Registration) Wait(ctx context.Context) error {
	for _, f := range r.acks {
		if _, err := f.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Cancel sends a matching Unsubscribe for every name still owned by this
// registration and removes it from the local registry.
func (r *Registration) Cancel(ctx context.Context) {
	r.channel.mu.Lock()
	var names []string
	for name, e := range r.entries {
		if r.channel.handlers[name] == e {
			delete(r.channel.handlers, name)
			names = append(names, name)
		}
	}
	r.channel.mu.Unlock()

	for _, name := range names {
		r.channel.sendUnsubscribe(ctx, name)
	}
}

// RegisterHandler records handler for every name and advertises it to the
// server with a Subscribe frame per name.
func (c *Channel) RegisterHandler(handler HandlerFunc, loadFactor int32, names ...string) *Registration {
	entries := make(map[string]*entry, len(names))
	c.mu.Lock()
	for _, name := range names {
		e := &entry{handler: handler, loadFactor: loadFactor}
		c.handlers[name] = e
		entries[name] = e
	}
	c.mu.Unlock()

	ctx := context.Background()
	acks := make([]*future.Future[*proto.Ack], 0, len(names))
	for _, name := range names {
		acks = append(acks, c.sendSubscribe(ctx, name))
	}
	return &Registration{channel: c, entries: entries, acks: acks}
}

// PrepareDisconnect sends Unsubscribe for every registered name and blocks
// until every ack is received, without tearing down the transport.
func (c *Channel) PrepareDisconnect(ctx context.Context) error {
	c.mu.RLock()
	names := make([]string, 0, len(c.handlers))
	for name := range c.handlers {
		names = append(names, name)
	}
	c.mu.RUnlock()

	acks := make([]*future.Future[*proto.Ack], 0, len(names))
	for _, name := range names {
		acks = append(acks, c.sendUnsubscribe(ctx, name))
	}
	for _, f := range acks {
		if _, err := f.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Disconnect sends unsubscribes best-effort, clears the registry, and closes
// the outbound side.
func (c *Channel) Disconnect(ctx context.Context) {
	c.mu.Lock()
	names := make([]string, 0, len(c.handlers))
	for name := range c.handlers {
		names = append(names, name)
	}
	c.handlers = make(map[string]*entry)
	c.mu.Unlock()

	for _, name := range names {
		_ = c.outbound.Send(&proto.Frame{
			Kind:        proto.KindUnsubscribe,
			Unsubscribe: &proto.Unsubscribe{Command: name},
		})
	}
	if stream, ok := c.outbound.Get(); ok {
		_ = stream.CloseSend()
	}
	c.outbound.Clear()
	c.supervisor.Disconnect()
}

// SendCommand dispatches cmd as a unary RPC and returns its single response.
func (c *Channel) SendCommand(ctx context.Context, cmd *proto.Command) (*proto.CommandResponse, error) {
	if cmd.MessageID == "" {
		cmd.MessageID = uuid.NewString()
	}
	cmd.ClientID = c.identity.ClientID
	cmd.ComponentName = c.identity.ComponentName
	if _, ok := cmd.RoutingKey(); !ok {
		cmd.ProcessingInstructions = append(cmd.ProcessingInstructions, proto.ProcessingInstruction{
			Key:   proto.RoutingKeyInstruction,
			Value: cmd.MessageID,
		})
	}

	resp, err := c.dialer.DispatchCommand(ctx, cmd)
	if err != nil {
		return nil, proto.NewDispatchError(proto.ErrCommandDispatch, err.Error())
	}
	if resp == nil {
		return nil, proto.NewDispatchError(proto.ErrCommandDispatch, "reply completed without result")
	}
	return resp, nil
}

func (c *Channel) handleInboundCommand(ctx context.Context, f *proto.Frame, reply dispatch.ReplyChannel) {
	cmd := f.Command
	c.mu.RLock()
	e, ok := c.handlers[cmd.Name]
	c.mu.RUnlock()

	if !ok {
		reply.SendNack(f.InstructionID, proto.ErrNoHandlerForCommand, "no handler registered for "+cmd.Name)
		reply.Send(&proto.Frame{
			Kind: proto.KindCommandResponse,
			CommandResponse: &proto.CommandResponse{
				RequestIdentifier: cmd.MessageID,
				ErrorCode:         proto.ErrNoHandlerForCommand,
			},
		})
		return
	}

	reply.SendAck(f.InstructionID, nil)

	go func() {
		payload, err := e.handler(ctx, cmd)
		resp := &proto.CommandResponse{RequestIdentifier: cmd.MessageID}
		if err != nil {
			resp.ErrorCode = proto.ErrCommandExecution
			resp.ErrorMessage = err.Error()
		} else {
			resp.Payload = payload
		}
		reply.Send(&proto.Frame{Kind: proto.KindCommandResponse, CommandResponse: resp})
		reply.Complete()
	}()
}

func (c *Channel) handleAck(ctx context.Context, f *proto.Frame, reply dispatch.ReplyChannel) {
	c.pending.Ack(f.InstructionID, f.Ack)
}
