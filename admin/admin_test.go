package admin_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/riftline/axonconnect/admin"
	"github.com/riftline/axonconnect/command"
	"github.com/riftline/axonconnect/internal/identity"
	"github.com/riftline/axonconnect/internal/proto"
	"github.com/riftline/axonconnect/mocks"
)

func TestInvokeDispatchesNamespacedCommand(t *testing.T) {
	dialer := new(mocks.MockDialer)
	dialer.On("DispatchCommand", mock.Anything, mock.MatchedBy(func(cmd *proto.Command) bool {
		return cmd.Name == "admin.purgeEventsCache"
	})).Return(&proto.CommandResponse{Payload: []byte("done")}, nil)

	commands := command.New(command.Config{
		Identity: identity.ClientIdentity{ClientID: "c1", ComponentName: "demo"},
		Dialer:   dialer,
	})
	ch := admin.New(commands)

	resp, err := ch.Invoke(context.Background(), "purgeEventsCache", nil)
	require.NoError(t, err)
	require.Equal(t, []byte("done"), resp)
}

func TestInvokeSurfacesServerError(t *testing.T) {
	dialer := new(mocks.MockDialer)
	dialer.On("DispatchCommand", mock.Anything, mock.Anything).
		Return(&proto.CommandResponse{ErrorCode: "ADMIN_DENIED", ErrorMessage: "not authorized"}, nil)

	commands := command.New(command.Config{
		Identity: identity.ClientIdentity{ClientID: "c1", ComponentName: "demo"},
		Dialer:   dialer,
	})
	ch := admin.New(commands)

	_, err := ch.Invoke(context.Background(), "purgeEventsCache", nil)
	require.Error(t, err)

	var de *proto.DispatchError
	require.ErrorAs(t, err, &de)
	require.Equal(t, "ADMIN_DENIED", de.Category)
}
