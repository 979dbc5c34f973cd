package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewGRPCDialerConstructsWithoutDialing(t *testing.T) {
	// grpc.NewClient is lazy: it does not dial until the first RPC, so
	// construction against an unreachable target should still succeed and
	// Close should tear it down cleanly.
	d, err := NewGRPCDialer(context.Background(), DialOptions{Target: "127.0.0.1:0"})
	require.NoError(t, err)
	require.NotNil(t, d)
	require.NoError(t, d.Close())
}
