// Package query implements the Query Channel: unary/server-streaming query
// dispatch and subscription queries, plus the handler-set bookkeeping that
// advertises locally registered query handlers to the server.
//
// Grounded on the teacher's centralisedSubscriber.channelsTracker (a map of
// channel-name → set of subscriber ids) for the query-name → handler-set
// registry, and on the teacher's fanoutWorker/fanoutCh pattern for
// multi-handler fan-in.
package query

import (
	"context"
	"io"
	"sync"
	"time"

	set "github.com/duke-git/lancet/v2/datastructure/set"
	"github.com/google/uuid"

	"github.com/riftline/axonconnect/internal/dispatch"
	"github.com/riftline/axonconnect/internal/flowcontrol"
	"github.com/riftline/axonconnect/internal/future"
	"github.com/riftline/axonconnect/internal/identity"
	"github.com/riftline/axonconnect/internal/proto"
	"github.com/riftline/axonconnect/internal/reconnect"
	"github.com/riftline/axonconnect/internal/registry"
	"github.com/riftline/axonconnect/internal/resultstream"
	"github.com/riftline/axonconnect/internal/streamholder"
	"github.com/riftline/axonconnect/transport"
)

// QueryHandlerFunc answers one incoming query, or one GET_INITIAL_RESULT
// request for a subscription query sharing the same query name.
type QueryHandlerFunc func(ctx context.Context, q *proto.Query) ([]byte, error)

// UpdateSink lets a SubscriptionHandlerFunc push successive update payloads
// to the subscriber driving it.
type UpdateSink interface {
	Send(payload []byte) error
}

// SubscriptionHandlerFunc answers one SUBSCRIBE request for a subscription
// query: it pushes updates to sink for as long as the subscription should
// stay open and returns when the subscription is over. A non-nil return
// value ends the subscription with an error instead of a normal completion.
type SubscriptionHandlerFunc func(ctx context.Context, q *proto.Query, updates UpdateSink) error

type subscriptionHandlerEntry struct {
	id      string
	handler SubscriptionHandlerFunc
	def     Definition
}

// Definition names a (queryName, resultType) pair a handler answers.
type Definition struct {
	QueryName  string
	ResultType string
}

// handlerSetKey is the handlerSets map key for a Definition. A queryName
// alone is not unique: two handlers can answer the same queryName with
// different resultTypes, and each such pair subscribes independently.
func handlerSetKey(queryName, resultType string) string {
	return queryName + "\x00" + resultType
}

func splitHandlerSetKey(key string) (queryName, resultType string) {
	for i := 0; i < len(key); i++ {
		if key[i] == 0 {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

type queryHandlerEntry struct {
	id      string
	handler QueryHandlerFunc
	def     Definition
}

// Config bundles the construction parameters for a Channel.
type Config struct {
	Identity    identity.ClientIdentity
	Dialer      transport.Dialer
	Backoff     time.Duration
	Permits     int64
	RefillBatch int64
}

// Channel is the Query Channel.
type Channel struct {
	identity identity.ClientIdentity
	dialer   transport.Dialer

	mu                   sync.RWMutex
	handlerSets          map[string]set.Set[string] // handlerSetKey(queryName, resultType) -> handler ids
	handlers             map[string]*queryHandlerEntry
	subscriptionHandlers map[string]*subscriptionHandlerEntry // handlerSetKey(queryName, updateType) -> entry

	activeSubscriptions sync.Map // subscriptionID -> queryName, for EmitUpdate fan-out
	subscriptionCancels sync.Map // subscriptionID -> context.CancelFunc, for handler-driven subscriptions

	outbound   *streamholder.Holder[*proto.Frame, transport.BidiStream]
	pending    *registry.Registry
	governor   *flowcontrol.Governor
	supervisor *reconnect.Supervisor
}

// New constructs a disconnected Channel.
func New(cfg Config) *Channel {
	c := &Channel{
		identity:             cfg.Identity,
		dialer:               cfg.Dialer,
		handlerSets:          make(map[string]set.Set[string]),
		handlers:             make(map[string]*queryHandlerEntry),
		subscriptionHandlers: make(map[string]*subscriptionHandlerEntry),
		outbound:             streamholder.New[*proto.Frame, transport.BidiStream](),
		pending:              registry.New("query"),
	}
	c.governor = flowcontrol.New("query", cfg.Permits, cfg.RefillBatch, c.sendFlowControl)
	c.supervisor = reconnect.New("query", cfg.Backoff, reconnect.Callbacks{
		Open:        c.open,
		OnConnected: c.onConnected,
		FailPending: c.pending.FailAll,
	})
	return c
}

// Connect starts the reconnect supervisor's first connect attempt.
func (c *Channel) Connect(ctx context.Context) { c.supervisor.Connect(ctx) }

// IsConnected reports whether the main instruction stream is currently up.
func (c *Channel) IsConnected() bool { return c.supervisor.IsConnected() }

func (c *Channel) open(ctx context.Context) error {
	stream, err := c.dialer.OpenQueryStream(ctx)
	if err != nil {
		return err
	}
	if previous, ok := c.outbound.GetAndSet(stream); ok {
		_ = previous.CloseSend()
	}

	loop := dispatch.New(dispatch.Config{
		Channel: "query",
		Recv:    stream,
		Handlers: map[proto.Kind]dispatch.Handler{
			proto.KindQuery:                    c.handleInboundQuery,
			proto.KindAck:                       c.handleAck,
			proto.KindSubscriptionQueryRequest: c.handleSubscriptionQueryRequest,
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
	var defs []Definition
	for key, s := range c.handlerSets {
		if s.Size() == 0 {
			continue
		}
		queryName, resultType := splitHandlerSetKey(key)
		defs = append(defs, Definition{QueryName: queryName, ResultType: resultType})
	}
	c.mu.RUnlock()

	for _, def := range defs {
		c.sendQuerySubscribe(ctx, def)
	}
}

func (c *Channel) sendFlowControl(delta int64) {
	_ = c.outbound.Send(&proto.Frame{
		Kind:        proto.KindFlowControl,
		FlowControl: &proto.FlowControl{ClientID: c.identity.ClientID, Permits: delta},
	})
}

func (c *Channel) sendQuerySubscribe(ctx context.Context, def Definition) *future.Future[*proto.Ack] {
	id := uuid.NewString()
	f := c.pending.Track(id)
	frame := &proto.Frame{
		Kind:          proto.KindSubscribe,
		InstructionID: id,
		Subscribe: &proto.Subscribe{
			MessageID:     id,
			Query:         def.QueryName,
			ResultName:    def.ResultType,
			ClientID:      c.identity.ClientID,
			ComponentName: c.identity.ComponentName,
		},
	}
	if err := c.outbound.Send(frame); err != nil {
		f.Fail(proto.NewDispatchError(proto.ErrCommandDispatch, err.Error()))
	}
	return f
}

func (c *Channel) sendQueryUnsubscribe(ctx context.Context, def Definition) *future.Future[*proto.Ack] {
	id := uuid.NewString()
	f := c.pending.Track(id)
	frame := &proto.Frame{
		Kind:          proto.KindUnsubscribe,
		InstructionID: id,
		Unsubscribe: &proto.Unsubscribe{
			MessageID:  id,
			Query:      def.QueryName,
			ResultName: def.ResultType,
		},
	}
	if err := c.outbound.Send(frame); err != nil {
		f.Fail(proto.NewDispatchError(proto.ErrCommandDispatch, err.Error()))
	}
	return f
}

type regDef struct {
	def Definition
	id  string
}

// Registration is returned by RegisterQueryHandler; Cancel unregisters every
// definition still owned by it.
type Registration struct {
	channel *Channel
	defs    []regDef
}

// RegisterQueryHandler adds handler to the handler set for every def. The
// first handler registered for a given (queryName, resultType) pair sends a
// Subscribe frame; subsequent handlers for the same pair produce no wire
// traffic.
func (c *Channel) RegisterQueryHandler(handler QueryHandlerFunc, defs ...Definition) *Registration {
	reg := &Registration{channel: c}
	var toSubscribe []Definition

	c.mu.Lock()
	for _, def := range defs {
		id := uuid.NewString()
		c.handlers[id] = &queryHandlerEntry{id: id, handler: handler, def: def}

		key := handlerSetKey(def.QueryName, def.ResultType)
		s, ok := c.handlerSets[key]
		if !ok {
			s = set.New[string]()
			c.handlerSets[key] = s
		}
		if s.Size() == 0 {
			toSubscribe = append(toSubscribe, def)
		}
		s.Add(id)
		reg.defs = append(reg.defs, regDef{def: def, id: id})
	}
	c.mu.Unlock()

	ctx := context.Background()
	for _, def := range toSubscribe {
		c.sendQuerySubscribe(ctx, def)
	}
	return reg
}

// SubscriptionHandlerRegistration is returned by RegisterSubscriptionHandler;
// Cancel stops handler from answering further SUBSCRIBE requests for def.
type SubscriptionHandlerRegistration struct {
	channel *Channel
	key     string
	id      string
}

// Cancel removes the subscription handler. Subscriptions already driven by
// it keep running to completion; only future SUBSCRIBE requests stop being
// routed to it.
func (r *SubscriptionHandlerRegistration) Cancel() {
	r.channel.mu.Lock()
	defer r.channel.mu.Unlock()
	if e, ok := r.channel.subscriptionHandlers[r.key]; ok && e.id == r.id {
		delete(r.channel.subscriptionHandlers, r.key)
	}
}

// RegisterSubscriptionHandler installs handler as the provider for SUBSCRIBE
// requests naming def's (queryName, updateType) pair. Unlike
// RegisterQueryHandler, at most one handler answers a given subscription
// query; a later registration for the same def replaces the previous one.
func (c *Channel) RegisterSubscriptionHandler(handler SubscriptionHandlerFunc, def Definition) *SubscriptionHandlerRegistration {
	id := uuid.NewString()
	key := handlerSetKey(def.QueryName, def.ResultType)

	c.mu.Lock()
	c.subscriptionHandlers[key] = &subscriptionHandlerEntry{id: id, handler: handler, def: def}
	c.mu.Unlock()

	return &SubscriptionHandlerRegistration{channel: c, key: key, id: id}
}

// Cancel removes every definition this registration added and sends
// Unsubscribe for any (queryName, resultType) pair whose handler set becomes
// empty.
func (r *Registration) Cancel(ctx context.Context) {
	c := r.channel
	var toUnsubscribe []Definition

	c.mu.Lock()
	for _, rd := range r.defs {
		if _, ok := c.handlers[rd.id]; !ok {
			continue
		}
		delete(c.handlers, rd.id)
		if s, ok := c.handlerSets[handlerSetKey(rd.def.QueryName, rd.def.ResultType)]; ok {
			s.Delete(rd.id)
			if s.Size() == 0 {
				toUnsubscribe = append(toUnsubscribe, rd.def)
			}
		}
	}
	c.mu.Unlock()

	for _, def := range toUnsubscribe {
		c.sendQueryUnsubscribe(ctx, def)
	}
}

// Disconnect clears the registry and closes the outbound side.
func (c *Channel) Disconnect(ctx context.Context) {
	c.mu.Lock()
	c.handlerSets = make(map[string]set.Set[string])
	c.handlers = make(map[string]*queryHandlerEntry)
	c.mu.Unlock()

	if stream, ok := c.outbound.Get(); ok {
		_ = stream.CloseSend()
	}
	c.outbound.Clear()
	c.supervisor.Disconnect()
}

// Query opens a server-streaming query and returns its buffered result
// stream. The stream's terminal element carries either nil (normal
// completion) or the first transport-level error encountered.
func (c *Channel) Query(ctx context.Context, req *proto.Query, bufferSize, refillBatch int64) (*resultstream.Stream[*proto.QueryResponse], error) {
	if req.MessageID == "" {
		req.MessageID = uuid.NewString()
	}
	req.ClientID = c.identity.ClientID
	req.ComponentName = c.identity.ComponentName

	serverStream, err := c.dialer.Query(ctx, req)
	if err != nil {
		return nil, proto.NewDispatchError(proto.ErrCommandDispatch, err.Error())
	}

	rs := resultstream.New[*proto.QueryResponse](bufferSize, refillBatch, nil)
	go func() {
		for {
			frame, err := serverStream.Recv()
			if err != nil {
				if err == io.EOF {
					rs.Complete()
				} else {
					rs.Fail(err)
				}
				return
			}
			switch frame.Kind {
			case proto.KindQueryResponse:
				rs.Push(ctx, frame.QueryResponse)
			case proto.KindStreamComplete:
				rs.Complete()
				return
			}
		}
	}()
	return rs, nil
}

// SubscriptionQuerySession is the consumer-side handle returned by
// SubscriptionQuery: InitialResult lazily requests and awaits the initial
// result exactly once; Updates streams subsequent push updates.
type SubscriptionQuerySession struct {
	stream         transport.BidiStream
	subscriptionID string

	initialOnce   sync.Once
	initialFuture *future.Future[*proto.SubscriptionQueryResponse]
	updates       *resultstream.Stream[*proto.SubscriptionQueryResponse]
}

// InitialResult requests (on first call only) and awaits the subscription
// query's initial result.
func (s *SubscriptionQuerySession) InitialResult(ctx context.Context) (*proto.SubscriptionQueryResponse, error) {
	s.initialOnce.Do(func() {
		_ = s.stream.Send(&proto.Frame{
			Kind: proto.KindSubscriptionQueryRequest,
			SubscriptionQueryRequest: &proto.SubscriptionQueryRequest{
				RequestKind:    proto.SubscriptionQueryGetInitialResult,
				SubscriptionID: s.subscriptionID,
			},
		})
	})
	return s.initialFuture.Wait(ctx)
}

// Updates returns the buffered stream of subscription query updates.
func (s *SubscriptionQuerySession) Updates() *resultstream.Stream[*proto.SubscriptionQueryResponse] {
	return s.updates
}

// Cancel unsubscribes and tears down the dedicated subscription stream.
func (s *SubscriptionQuerySession) Cancel() error {
	_ = s.stream.Send(&proto.Frame{
		Kind: proto.KindSubscriptionQueryRequest,
		SubscriptionQueryRequest: &proto.SubscriptionQueryRequest{
			RequestKind:    proto.SubscriptionQueryUnsubscribe,
			SubscriptionID: s.subscriptionID,
		},
	})
	s.updates.Close()
	return s.stream.CloseSend()
}

func (s *SubscriptionQuerySession) pump(ctx context.Context) {
	for {
		frame, err := s.stream.Recv()
		if err != nil {
			s.initialFuture.Fail(err)
			s.updates.Fail(err)
			return
		}
		if frame.Kind != proto.KindSubscriptionQueryResponse {
			continue
		}
		resp := frame.SubscriptionQueryResponse
		if resp.ErrorCode != "" {
			cause := proto.NewDispatchError(resp.ErrorCode, resp.ErrorMessage)
			s.initialFuture.Fail(cause)
			s.updates.Fail(cause)
			return
		}
		if resp.InitialResult != nil {
			s.initialFuture.Resolve(resp)
			continue
		}
		if resp.Complete {
			s.updates.Complete()
			return
		}
		s.updates.Push(ctx, resp)
	}
}

// SubscriptionQuery opens a dedicated bidi subscription stream, subscribes,
// and returns the session handle. bufferSize/fetchSize parameterize the
// update stream's flow control.
func (c *Channel) SubscriptionQuery(ctx context.Context, req *proto.Query, updateType string, bufferSize, fetchSize int64) (*SubscriptionQuerySession, error) {
	stream, err := c.dialer.OpenSubscriptionStream(ctx)
	if err != nil {
		return nil, proto.NewDispatchError(proto.ErrCommandDispatch, err.Error())
	}

	subscriptionID := uuid.NewString()
	sess := &SubscriptionQuerySession{
		stream:         stream,
		subscriptionID: subscriptionID,
		initialFuture:  future.New[*proto.SubscriptionQueryResponse](),
	}
	sess.updates = resultstream.New[*proto.SubscriptionQueryResponse](bufferSize, fetchSize, func(delta int64) {
		_ = stream.Send(&proto.Frame{
			Kind:        proto.KindFlowControl,
			FlowControl: &proto.FlowControl{ClientID: c.identity.ClientID, Permits: delta},
		})
	})
	sess.updates.EnableFlowControl()

	err = stream.Send(&proto.Frame{
		Kind: proto.KindSubscriptionQueryRequest,
		SubscriptionQueryRequest: &proto.SubscriptionQueryRequest{
			RequestKind:    proto.SubscriptionQuerySubscribe,
			SubscriptionID: subscriptionID,
			QueryName:      req.QueryName,
			ResponseType:   req.ResponseType,
			UpdateType:     updateType,
			Payload:        req.Payload,
		},
	})
	if err != nil {
		return nil, proto.NewDispatchError(proto.ErrCommandDispatch, err.Error())
	}

	go sess.pump(ctx)
	return sess, nil
}

// subscriptionUpdateSink is the UpdateSink passed to a SubscriptionHandlerFunc;
// it targets exactly the one subscription that triggered the handler.
type subscriptionUpdateSink struct {
	channel        *Channel
	subscriptionID string
}

func (s *subscriptionUpdateSink) Send(payload []byte) error {
	return s.channel.outbound.Send(&proto.Frame{
		Kind: proto.KindSubscriptionQueryResponse,
		SubscriptionQueryResponse: &proto.SubscriptionQueryResponse{
			SubscriptionID: s.subscriptionID,
			Update:         payload,
		},
	})
}

// EmitUpdate pushes payload to every active subscription query currently
// tracked for queryName, regardless of which handler (if any) is driving it.
// Supplements RegisterSubscriptionHandler's per-subscription UpdateSink with
// a broadcast push for callers that want to fan a single event out to every
// live subscriber of a query name.
func (c *Channel) EmitUpdate(queryName string, payload []byte) {
	c.activeSubscriptions.Range(func(key, value any) bool {
		subscriptionID := key.(string)
		name := value.(string)
		if name != queryName {
			return true
		}
		_ = c.outbound.Send(&proto.Frame{
			Kind: proto.KindSubscriptionQueryResponse,
			SubscriptionQueryResponse: &proto.SubscriptionQueryResponse{
				SubscriptionID: subscriptionID,
				Update:         payload,
			},
		})
		return true
	})
}

func (c *Channel) handleAck(ctx context.Context, f *proto.Frame, reply dispatch.ReplyChannel) {
	c.pending.Ack(f.InstructionID, f.Ack)
}

func (c *Channel) handleInboundQuery(ctx context.Context, f *proto.Frame, reply dispatch.ReplyChannel) {
	q := f.Query

	c.mu.RLock()
	var handlers []*queryHandlerEntry
	if s, ok := c.handlerSets[handlerSetKey(q.QueryName, q.ResponseType)]; ok {
		for _, id := range s.Values() {
			if e, ok := c.handlers[id]; ok {
				handlers = append(handlers, e)
			}
		}
	}
	c.mu.RUnlock()

	if len(handlers) == 0 {
		reply.SendNack(f.InstructionID, proto.ErrNoHandlerForQuery, "no handler registered for "+q.QueryName)
		reply.Send(&proto.Frame{
			Kind: proto.KindQueryResponse,
			QueryResponse: &proto.QueryResponse{
				RequestIdentifier: q.MessageID,
				ErrorCode:         proto.ErrNoHandlerForQuery,
			},
		})
		reply.Complete()
		return
	}

	reply.SendAck(f.InstructionID, nil)

	var wg sync.WaitGroup
	wg.Add(len(handlers))
	for _, e := range handlers {
		go func(e *queryHandlerEntry) {
			defer wg.Done()
			payload, err := e.handler(ctx, q)
			resp := &proto.QueryResponse{RequestIdentifier: q.MessageID}
			if err != nil {
				resp.ErrorCode = proto.ErrCommandExecution
				resp.ErrorMessage = err.Error()
			} else {
				resp.Payload = payload
			}
			reply.Send(&proto.Frame{Kind: proto.KindQueryResponse, QueryResponse: resp})
		}(e)
	}
	go func() {
		wg.Wait()
		reply.Complete()
	}()
}

func (c *Channel) handleSubscriptionQueryRequest(ctx context.Context, f *proto.Frame, reply dispatch.ReplyChannel) {
	req := f.SubscriptionQueryRequest

	switch req.RequestKind {
	case proto.SubscriptionQueryGetInitialResult:
		c.mu.RLock()
		var handler *queryHandlerEntry
		if s, ok := c.handlerSets[handlerSetKey(req.QueryName, req.ResponseType)]; ok {
			for _, id := range s.Values() {
				if e, ok := c.handlers[id]; ok {
					handler = e
					break
				}
			}
		}
		c.mu.RUnlock()

		if handler == nil {
			reply.SendNack(f.InstructionID, proto.ErrNoHandlerForQuery, "no handler registered for "+req.QueryName)
			return
		}
		reply.SendAck(f.InstructionID, nil)

		go func() {
			payload, err := handler.handler(ctx, &proto.Query{QueryName: req.QueryName, Payload: req.Payload})
			resp := &proto.SubscriptionQueryResponse{SubscriptionID: req.SubscriptionID}
			if err != nil {
				resp.ErrorCode = proto.ErrCommandExecution
				resp.ErrorMessage = err.Error()
			} else {
				resp.InitialResult = payload
			}
			reply.Send(&proto.Frame{Kind: proto.KindSubscriptionQueryResponse, SubscriptionQueryResponse: resp})
		}()

	case proto.SubscriptionQuerySubscribe:
		c.mu.RLock()
		handler, ok := c.subscriptionHandlers[handlerSetKey(req.QueryName, req.UpdateType)]
		c.mu.RUnlock()

		if !ok {
			reply.SendNack(f.InstructionID, proto.ErrNoHandlerForQuery, "no handler registered for "+req.QueryName)
			return
		}

		c.activeSubscriptions.Store(req.SubscriptionID, req.QueryName)
		subCtx, cancel := context.WithCancel(ctx)
		c.subscriptionCancels.Store(req.SubscriptionID, cancel)
		reply.SendAck(f.InstructionID, nil)

		go func() {
			defer cancel()
			sink := &subscriptionUpdateSink{channel: c, subscriptionID: req.SubscriptionID}
			err := handler.handler(subCtx, &proto.Query{QueryName: req.QueryName, Payload: req.Payload}, sink)
			c.activeSubscriptions.Delete(req.SubscriptionID)
			c.subscriptionCancels.Delete(req.SubscriptionID)

			resp := &proto.SubscriptionQueryResponse{SubscriptionID: req.SubscriptionID, Complete: true}
			if err != nil {
				resp.ErrorCode = proto.ErrCommandExecution
				resp.ErrorMessage = err.Error()
			}
			reply.Send(&proto.Frame{Kind: proto.KindSubscriptionQueryResponse, SubscriptionQueryResponse: resp})
		}()

	case proto.SubscriptionQueryUnsubscribe:
		if cancel, ok := c.subscriptionCancels.LoadAndDelete(req.SubscriptionID); ok {
			cancel.(context.CancelFunc)()
		}
		c.activeSubscriptions.Delete(req.SubscriptionID)
		reply.SendAck(f.InstructionID, nil)
	}
}
