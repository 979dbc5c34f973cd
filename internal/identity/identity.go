// Package identity holds the small value type stamped on every outbound
// frame. It is factored out of connection so that command and query can
// depend on it without importing connection, which in turn constructs both
// channels.
package identity

// ClientIdentity identifies this process to the cluster it connects to.
// Immutable once constructed, matching the teacher's common.NodeID /
// common.ChannelName pattern of lightweight string-backed identity types.
type ClientIdentity struct {
	ClientID      string
	ComponentName string
}
