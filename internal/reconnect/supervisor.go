// Package reconnect implements the reconnect supervisor: the small state
// machine that detects transport loss, schedules backoff, and triggers
// re-open plus re-subscription of a channel's handler registry.
//
// Grounded on the teacher's centralisedSubscriber.SubscriptionSyncer, which
// is a dedicated goroutine reacting to a debounced trigger channel
// (subscriptionSyncer chan struct{}) rather than being invoked inline from
// the caller. The reconnect supervisor reuses that exact shape for
// scheduleImmediateReconnect: a buffered trigger channel of capacity 1 plus
// one goroutine that drains it and performs the backoff sleep, if any, off
// of any caller's goroutine.
package reconnect

import (
	"context"
	"sync"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/riftline/axonconnect/metrics"
)

// State is one of the four reconnect-supervisor states.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Callbacks bundles the actions the supervisor performs on transitions.
type Callbacks struct {
	// Open attempts to establish the outbound send side and returns an
	// error on failure. Called on every Connecting entry.
	Open func(ctx context.Context) error
	// OnConnected is invoked after Open succeeds, to re-play subscribe
	// messages for the handler registry.
	OnConnected func(ctx context.Context)
	// FailPending fails every pending instruction with the transport
	// cause, called before the first reconnect attempt after a loss.
	FailPending func(cause error)
}

// Supervisor drives the reconnect state machine for one channel.
type Supervisor struct {
	channel   string
	backoff   time.Duration
	callbacks Callbacks

	mu    sync.Mutex
	state State

	trigger chan struct{}
	stop    chan struct{}
	stopped sync.Once
}

// New constructs a Supervisor with the given backoff interval between
// Reconnecting and the next Connecting attempt. channel labels the
// axon_reconnects_total metric.
func New(channel string, backoff time.Duration, callbacks Callbacks) *Supervisor {
	return &Supervisor{
		channel:   channel,
		backoff:   backoff,
		callbacks: callbacks,
		state:     Disconnected,
		trigger:   make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Connect transitions Disconnected -> Connecting and attempts to open the
// transport; on success it transitions to Connected and replays
// subscriptions. Run this from a caller goroutine; it does not block
// callers of other Supervisor methods.
func (s *Supervisor) Connect(ctx context.Context) {
	go s.runConnectAttempt(ctx)
}

func (s *Supervisor) runConnectAttempt(ctx context.Context) {
	logger := slogctx.FromCtx(ctx).With("component", "reconnect-supervisor")
	s.setState(Connecting)

	if err := s.callbacks.Open(ctx); err != nil {
		logger.WarnContext(ctx, "connect attempt failed", "err", err)
		s.ReconnectWithCause(ctx, err)
		return
	}

	s.setState(Connected)
	s.callbacks.OnConnected(ctx)
}

// ReconnectWithCause transitions Connected/Connecting -> Reconnecting,
// failing every pending instruction with cause, then schedules the next
// connect attempt after the configured backoff.
func (s *Supervisor) ReconnectWithCause(ctx context.Context, cause error) {
	s.setState(Reconnecting)
	metrics.ReconnectsTotal.WithLabelValues(s.channel).Inc()
	s.callbacks.FailPending(cause)
	s.scheduleReconnect(ctx, s.backoff)
}

// ScheduleImmediateReconnect requests a reconnect attempt without waiting
// for the configured backoff; debounced so that multiple concurrent
// callers only produce one pending attempt.
func (s *Supervisor) ScheduleImmediateReconnect(ctx context.Context) {
	s.scheduleReconnect(ctx, 0)
}

func (s *Supervisor) scheduleReconnect(ctx context.Context, delay time.Duration) {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
	go s.reconnectWorker(ctx, delay)
}

func (s *Supervisor) reconnectWorker(ctx context.Context, delay time.Duration) {
	select {
	case <-s.trigger:
	default:
		return
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-s.stop:
		return
	case <-ctx.Done():
		return
	}

	s.runConnectAttempt(ctx)
}

// Disconnect transitions to Disconnected and stops any pending reconnect
// attempt.
func (s *Supervisor) Disconnect() {
	s.setState(Disconnected)
	s.stopped.Do(func() { close(s.stop) })
}

// IsConnected reports whether the supervisor currently considers the
// channel connected.
func (s *Supervisor) IsConnected() bool {
	return s.State() == Connected
}
