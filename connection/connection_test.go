package connection_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/riftline/axonconnect/connection"
	"github.com/riftline/axonconnect/internal/identity"
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

func TestConnectionConnectsBothChannels(t *testing.T) {
	dialer := new(mocks.MockDialer)
	dialer.On("OpenCommandStream", mock.Anything).Return(mocks.NewFakeBidiStream(4), nil)
	dialer.On("OpenQueryStream", mock.Anything).Return(mocks.NewFakeBidiStream(4), nil)
	dialer.On("Close").Return(nil)

	conn := connection.NewWithDialer(dialer, connection.Config{
		Identity:    identity.ClientIdentity{ClientID: "c1", ComponentName: "demo"},
		Backoff:     5 * time.Millisecond,
		Permits:     10,
		RefillBatch: 5,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn.Connect(ctx)

	eventually(t, conn.Command.IsConnected)
	eventually(t, conn.Query.IsConnected)

	require.NoError(t, conn.Close(context.Background()))
}
