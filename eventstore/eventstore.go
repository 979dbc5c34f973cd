// Package eventstore documents the boundary of the Event-store channel
// without implementing it. Its append/read semantics (event streaming,
// tracking tokens, snapshot transfer) are a separate design from the
// channel runtime this module builds: the same internal/registry,
// internal/streamholder, internal/dispatch, internal/flowcontrol, and
// internal/reconnect primitives that back command.Channel and query.Channel
// are general enough to host an Event-store channel the same way, but doing
// so is out of scope here.
package eventstore
