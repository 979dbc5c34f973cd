// Package proto stands in for the generated protobuf types of the real
// AxonServer wire protocol. The channel runtime treats these as opaque
// tagged records; no .proto compiler runs in this environment, so the
// envelope-plus-typed-payload shape is hand-written here in the style of the
// teacher's ds.ClientMessage/ds.ControlPlaneMessage envelopes.
package proto

// Kind identifies the payload carried by a Frame.
type Kind int

const (
	KindUnknown Kind = iota

	// Kinds the server sends on the command/query instruction streams.
	// KindAck also flows client-to-server, and the client sends
	// KindSubscriptionQueryRequest on a dedicated subscription stream.
	KindCommand
	KindQuery
	KindAck
	KindSubscriptionQueryRequest

	// Kinds the client sends on the command/query instruction streams.
	// The client also receives KindQueryResponse and KindStreamComplete on a
	// Query server stream, and KindSubscriptionQueryResponse on a
	// subscription stream.
	KindSubscribe
	KindUnsubscribe
	KindFlowControl
	KindCommandResponse
	KindQueryResponse
	KindStreamComplete
	KindSubscriptionQueryResponse
)

// SubscriptionQueryRequestKind distinguishes the three sub-kinds a
// SubscriptionQueryRequest frame can carry.
type SubscriptionQueryRequestKind int

const (
	SubscriptionQuerySubscribe SubscriptionQueryRequestKind = iota
	SubscriptionQueryUnsubscribe
	SubscriptionQueryGetInitialResult
)

// ProcessingInstruction is a small key/value annotation carried on commands
// and queries; ROUTING_KEY is the only one this spec synthesizes.
type ProcessingInstruction struct {
	Key   string
	Value string
}

const RoutingKeyInstruction = "ROUTING_KEY"

// Command is the payload of an inbound KindCommand frame, and is also
// embedded when the client builds an outbound unary dispatch.
type Command struct {
	MessageID              string
	Name                   string
	Payload                []byte
	ClientID               string
	ComponentName           string
	ProcessingInstructions []ProcessingInstruction
}

// RoutingKey returns the command's synthesized or explicit routing key
// processing instruction, and whether one was present.
func (c *Command) RoutingKey() (string, bool) {
	for _, pi := range c.ProcessingInstructions {
		if pi.Key == RoutingKeyInstruction {
			return pi.Value, true
		}
	}
	return "", false
}

// CommandResponse is the payload of an outbound KindCommandResponse frame.
type CommandResponse struct {
	RequestIdentifier string
	Payload           []byte
	ErrorCode         string
	ErrorMessage      string
}

// Query is the payload of an inbound KindQuery frame.
type Query struct {
	MessageID    string
	QueryName    string
	ResponseType string
	Payload      []byte
	ClientID     string
	ComponentName string
}

// QueryResponse is the payload of an outbound KindQueryResponse frame.
type QueryResponse struct {
	RequestIdentifier string
	Payload           []byte
	ErrorCode         string
	ErrorMessage      string
}

// StreamComplete marks the end of all responses for a given command or
// query dispatch; the same frame kind terminates both, since a reply's
// completion is not itself command- or query-specific.
type StreamComplete struct {
	RequestIdentifier string
}

// SubscriptionQueryRequest is the payload of an inbound
// KindSubscriptionQueryRequest frame.
type SubscriptionQueryRequest struct {
	RequestKind    SubscriptionQueryRequestKind
	SubscriptionID string
	QueryName      string
	ResponseType   string
	UpdateType     string
	Payload        []byte
}

// SubscriptionQueryResponse is the payload of an outbound
// KindSubscriptionQueryResponse frame. Exactly one of InitialResult, Update,
// Complete, or the error fields is meaningful per instance.
type SubscriptionQueryResponse struct {
	SubscriptionID string
	InitialResult  []byte
	Update         []byte
	Complete       bool
	ErrorCode      string
	ErrorMessage   string
}

// Subscribe is the payload of an outbound KindSubscribe frame, shared by the
// command and query channels (only the relevant fields are populated).
type Subscribe struct {
	MessageID     string
	Command       string
	Query         string
	ResultName    string
	ClientID      string
	ComponentName string
	LoadFactor    int32
}

// Unsubscribe is the payload of an outbound KindUnsubscribe frame.
type Unsubscribe struct {
	MessageID  string
	Command    string
	Query      string
	ResultName string
}

// Ack is the payload of both inbound and outbound KindAck frames.
type Ack struct {
	InstructionID string
	Success       bool
	ErrorCode     string
	ErrorMessage  string
}

// FlowControl is the payload of an outbound KindFlowControl frame.
type FlowControl struct {
	ClientID string
	Permits  int64
}

// Frame is the tagged union exchanged over every bidi instruction stream.
// InstructionID is promoted to the envelope because every instruction-
// bearing frame kind carries one; an empty string means "no ack expected".
type Frame struct {
	Kind          Kind
	InstructionID string

	Command                  *Command
	CommandResponse           *CommandResponse
	Query                     *Query
	QueryResponse             *QueryResponse
	StreamComplete            *StreamComplete
	SubscriptionQueryRequest  *SubscriptionQueryRequest
	SubscriptionQueryResponse *SubscriptionQueryResponse
	Subscribe                *Subscribe
	Unsubscribe               *Unsubscribe
	Ack                       *Ack
	FlowControl               *FlowControl
}
