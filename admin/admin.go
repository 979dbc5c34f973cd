// Package admin is a thin request-reply façade over the same unary dispatch
// the Command Channel already exposes: admin operations have no subscription
// lifecycle, flow control, or reconnect state of their own, so this package
// adds no new concurrency design — it reuses command.Channel.SendCommand
// rather than inventing a second unary caller, per the connector's admin
// surface being modeled as named commands answered synchronously.
//
// Grounded on the teacher's CentralProcessor request/response style: one
// exported operation per call, no goroutines of its own.
package admin

import (
	"context"

	"github.com/riftline/axonconnect/command"
	"github.com/riftline/axonconnect/internal/proto"
)

// adminCommandPrefix namespaces admin operations in the Command Channel's
// flat command-name space.
const adminCommandPrefix = "admin."

// Channel is the Admin Channel.
type Channel struct {
	commands *command.Channel
}

// New builds an Admin Channel over an already-constructed Command Channel.
func New(commands *command.Channel) *Channel {
	return &Channel{commands: commands}
}

// Invoke performs one admin operation by name and returns its raw response
// payload, or the structured error the server reported.
func (c *Channel) Invoke(ctx context.Context, operation string, payload []byte) ([]byte, error) {
	resp, err := c.commands.SendCommand(ctx, &proto.Command{
		Name:    adminCommandPrefix + operation,
		Payload: payload,
	})
	if err != nil {
		return nil, err
	}
	if resp.ErrorCode != "" {
		return nil, proto.NewDispatchError(resp.ErrorCode, resp.ErrorMessage)
	}
	return resp.Payload, nil
}
