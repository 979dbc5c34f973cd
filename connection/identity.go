// Package connection owns the transport dial, client identity, and
// process-wide construction of the Command and Query channels — the thin
// "connection factory, bootstrap, TLS/auth" layer the distilled spec treats
// as out of scope but which a runnable connector still needs.
//
// Grounded on the teacher's cmd/server.go startServer, which wires a
// hostname-derived node identity, a pubsub provider, and the services that
// depend on it in one place; Connection plays the same role here for
// ClientIdentity, transport.Dialer, and the two channels.
package connection

import "github.com/riftline/axonconnect/internal/identity"

// ClientIdentity stamps every outbound frame. Re-exported from
// internal/identity so connection's own public API does not expose an
// internal import path to callers.
type ClientIdentity = identity.ClientIdentity
