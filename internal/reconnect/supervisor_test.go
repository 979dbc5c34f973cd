package reconnect

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForState(t *testing.T, s *Supervisor, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if s.State() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for state %v, got %v", want, s.State())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestConnectTransitionsToConnected(t *testing.T) {
	var onConnectedCalled atomic.Bool
	s := New("test", 10*time.Millisecond, Callbacks{
		Open:        func(ctx context.Context) error { return nil },
		OnConnected: func(ctx context.Context) { onConnectedCalled.Store(true) },
		FailPending: func(error) {},
	})

	s.Connect(context.Background())
	waitForState(t, s, Connected, time.Second)
	assert.True(t, onConnectedCalled.Load())
	assert.True(t, s.IsConnected())
}

func TestFailedConnectReconnectsAfterBackoff(t *testing.T) {
	var attempts atomic.Int32
	s := New("test", 20*time.Millisecond, Callbacks{
		Open: func(ctx context.Context) error {
			n := attempts.Add(1)
			if n == 1 {
				return errors.New("first attempt fails")
			}
			return nil
		},
		OnConnected: func(ctx context.Context) {},
		FailPending: func(error) {},
	})

	s.Connect(context.Background())
	waitForState(t, s, Connected, time.Second)
	assert.GreaterOrEqual(t, attempts.Load(), int32(2))
}

func TestReconnectFailsPendingBeforeRetrying(t *testing.T) {
	var failedWith error
	var mu sync.Mutex
	s := New("test", 5*time.Millisecond, Callbacks{
		Open:        func(ctx context.Context) error { return nil },
		OnConnected: func(ctx context.Context) {},
		FailPending: func(cause error) {
			mu.Lock()
			failedWith = cause
			mu.Unlock()
		},
	})

	cause := errors.New("transport lost")
	s.ReconnectWithCause(context.Background(), cause)
	waitForState(t, s, Connected, time.Second)

	mu.Lock()
	defer mu.Unlock()
	require.Error(t, failedWith)
	assert.Equal(t, cause, failedWith)
}

func TestScheduleImmediateReconnectIsDebounced(t *testing.T) {
	var attempts atomic.Int32
	s := New("test", 50*time.Millisecond, Callbacks{
		Open: func(ctx context.Context) error {
			attempts.Add(1)
			return nil
		},
		OnConnected: func(ctx context.Context) {},
		FailPending: func(error) {},
	})

	for i := 0; i < 5; i++ {
		s.ScheduleImmediateReconnect(context.Background())
	}

	waitForState(t, s, Connected, time.Second)
	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, attempts.Load(), int32(2), "concurrent triggers should collapse to at most a couple of attempts")
}

func TestDisconnectStopsPendingReconnect(t *testing.T) {
	s := New("test", time.Hour, Callbacks{
		Open:        func(ctx context.Context) error { return errors.New("down") },
		OnConnected: func(ctx context.Context) {},
		FailPending: func(error) {},
	})

	s.ReconnectWithCause(context.Background(), errors.New("lost"))
	waitForState(t, s, Reconnecting, time.Second)
	s.Disconnect()
	assert.Equal(t, Disconnected, s.State())
}
