package dispatch

import (
	"github.com/riftline/axonconnect/internal/framepool"
	"github.com/riftline/axonconnect/internal/proto"
)

// Sender is the minimal outbound contract a ReplyChannel needs; satisfied by
// streamholder.Holder. Send must not keep the frame after it returns:
// SendAck and SendNack return the frame and its Ack to framepool right away.
type Sender interface {
	Send(*proto.Frame) error
}

// replyChannel is the one small implementation of ReplyChannel used by both
// the command and query channels, closing over the outbound holder and the
// originating instructionId.
type replyChannel struct {
	sender        Sender
	instructionID string
	subscriptionID string
}

// NewReplyChannel builds the standard ReplyChannel for a given inbound frame,
// replying through sender.
func NewReplyChannel(sender Sender, instructionID string) ReplyChannel {
	return &replyChannel{sender: sender, instructionID: instructionID}
}

// NewSubscriptionReplyChannel is like NewReplyChannel but also carries the
// subscriptionId, used by the query channel's SubscriptionQueryResponse
// replies.
func NewSubscriptionReplyChannel(sender Sender, instructionID, subscriptionID string) ReplyChannel {
	return &replyChannel{sender: sender, instructionID: instructionID, subscriptionID: subscriptionID}
}

func (r *replyChannel) Send(f *proto.Frame) error {
	return r.sender.Send(f)
}

func (r *replyChannel) SendAck(instructionID string, err error) {
	pool := framepool.Global()
	ack := pool.Ack.Get()
	ack.InstructionID = instructionID
	ack.Success = err == nil
	if err != nil {
		if de, ok := err.(*proto.DispatchError); ok {
			ack.ErrorCode = de.Category
			ack.ErrorMessage = de.Message
		} else {
			ack.ErrorCode = proto.ErrCommandExecution
			ack.ErrorMessage = err.Error()
		}
	}

	frame := pool.Frame.Get()
	frame.Kind = proto.KindAck
	frame.InstructionID = instructionID
	frame.Ack = ack
	_ = r.sender.Send(frame)
	pool.ResetFrame(frame)
	pool.ResetAck(ack)
}

func (r *replyChannel) SendNack(instructionID string, category, message string) {
	pool := framepool.Global()
	ack := pool.Ack.Get()
	ack.InstructionID = instructionID
	ack.Success = false
	ack.ErrorCode = category
	ack.ErrorMessage = message

	frame := pool.Frame.Get()
	frame.Kind = proto.KindAck
	frame.InstructionID = instructionID
	frame.Ack = ack
	_ = r.sender.Send(frame)
	pool.ResetFrame(frame)
	pool.ResetAck(ack)
}

func (r *replyChannel) Complete() {
	_ = r.sender.Send(&proto.Frame{
		Kind: proto.KindStreamComplete,
		StreamComplete: &proto.StreamComplete{
			RequestIdentifier: r.instructionID,
		},
	})
}

func (r *replyChannel) CompleteWithError(err error) {
	category, message := proto.ErrCommandExecution, err.Error()
	if de, ok := err.(*proto.DispatchError); ok {
		category, message = de.Category, de.Message
	}
	_ = r.sender.Send(&proto.Frame{
		Kind: proto.KindQueryResponse,
		QueryResponse: &proto.QueryResponse{
			RequestIdentifier: r.instructionID,
			ErrorCode:         category,
			ErrorMessage:      message,
		},
	})
}
