package connection

import (
	"context"
	"time"

	"github.com/riftline/axonconnect/command"
	"github.com/riftline/axonconnect/query"
	"github.com/riftline/axonconnect/transport"
)

// Config bundles everything needed to bootstrap a Connection: the dial
// target/TLS settings, the client identity stamped on every outbound frame,
// and the tuning knobs each channel's reconnect supervisor and flow-control
// governor need. Grounded on the teacher's config.Config, adapted via viper
// in the config package.
type Config struct {
	Target      string
	TLSEnabled  bool
	Identity    ClientIdentity
	Backoff     time.Duration
	Permits     int64
	RefillBatch int64
}

// Connection is the process-wide AxonServer-style connector: one managed
// transport dial shared by the Command and Query channels.
//
// Grounded on the teacher's cmd/server.go startServer, which performs this
// exact role for its own services — dial once, construct every dependent
// service around the one connection.
type Connection struct {
	dialer  transport.Dialer
	Command *command.Channel
	Query   *query.Channel
}

// Open dials target and constructs both channels around the resulting
// transport.Dialer. Call Connect to start each channel's reconnect
// supervisor.
func Open(ctx context.Context, cfg Config) (*Connection, error) {
	dialer, err := transport.NewGRPCDialer(ctx, transport.DialOptions{
		Target:     cfg.Target,
		TLSEnabled: cfg.TLSEnabled,
	})
	if err != nil {
		return nil, err
	}
	return NewWithDialer(dialer, cfg), nil
}

// NewWithDialer wires an already-constructed Dialer into both channels,
// bypassing Open's gRPC dial. Exported so tests and callers embedding a
// custom transport (or a mock, in this package's own tests) can construct a
// Connection without a real network dial.
func NewWithDialer(dialer transport.Dialer, cfg Config) *Connection {
	return &Connection{
		dialer: dialer,
		Command: command.New(command.Config{
			Identity:    cfg.Identity,
			Dialer:      dialer,
			Backoff:     cfg.Backoff,
			Permits:     cfg.Permits,
			RefillBatch: cfg.RefillBatch,
		}),
		Query: query.New(query.Config{
			Identity:    cfg.Identity,
			Dialer:      dialer,
			Backoff:     cfg.Backoff,
			Permits:     cfg.Permits,
			RefillBatch: cfg.RefillBatch,
		}),
	}
}

// Connect starts the reconnect supervisor for every channel.
func (c *Connection) Connect(ctx context.Context) {
	c.Command.Connect(ctx)
	c.Query.Connect(ctx)
}

// Close disconnects both channels and tears down the underlying transport.
func (c *Connection) Close(ctx context.Context) error {
	c.Command.Disconnect(ctx)
	c.Query.Disconnect(ctx)
	return c.dialer.Close()
}
