package clusterbus

import (
	"context"
	"fmt"

	"github.com/rbaliyan/clusterbus/payload"
	"github.com/rbaliyan/clusterbus/wire"
)

// NodeAddress identifies a peer's inbound listener. It is an alias for
// wire.NodeAddress so that callers never need to import the wire package
// just to construct one.
type NodeAddress = wire.NodeAddress

// ParseNodeAddress parses the "host:port" form produced by NodeAddress.String.
func ParseNodeAddress(s string) (NodeAddress, error) {
	return wire.ParseNodeAddress(s)
}

// ClusteredMessage is a message travelling through the cluster, either
// originated locally (send/publish) or decoded from the wire.
type ClusteredMessage struct {
	Sender       NodeAddress
	Address      string
	ReplyAddress string
	Headers      map[string]string
	Body         []byte
	CodecID      string

	// IsSend distinguishes point-to-point ("send", exactly one recipient
	// chosen from the subscriber set) from publish (fan-out to all).
	IsSend bool

	// FromWire is set by the peer server on decode. It is never set by a
	// local caller and must never be cleared once set: the router uses it
	// to avoid re-clustering a message that already crossed the wire once.
	FromWire bool
}

func (m ClusteredMessage) String() string {
	kind := "publish"
	if m.IsSend {
		kind = "send"
	}
	return fmt.Sprintf("%s(from=%s addr=%q reply=%q wire=%v)", kind, m.Sender, m.Address, m.ReplyAddress, m.FromWire)
}

// Message is what a registered handler actually receives: the body and
// headers of a ClusteredMessage, with enough left on it to reply.
type Message struct {
	Address      string
	ReplyAddress string
	Headers      map[string]string
	Body         []byte
	CodecID      string
	from         NodeAddress
	node         *Node
}

// Decode deserializes the message body into v using the codec the
// sender recorded in CodecID, falling back to JSON if that codec isn't
// registered locally.
func (m Message) Decode(v any) error {
	return payload.MustGet(m.CodecID).Decode(m.Body, v)
}

// Reply sends body back to the original sender's reply address, if one
// was set. The registry is never consulted: the sender's NodeAddress
// travelled with the original message, and reply addresses are one-shot
// local tokens that are never advertised. Calling Reply on a message with
// no reply address is a no-op that returns ErrLookupFailed, mirroring a
// send to an address nobody subscribes to.
func (m Message) Reply(ctx context.Context, body []byte) error {
	if m.ReplyAddress == "" || m.node == nil {
		return ErrLookupFailed
	}
	return m.node.sendReply(ctx, m.from, m.ReplyAddress, body)
}

// HandlerFunc processes one message delivered to a local handler.
type HandlerFunc func(ctx context.Context, msg Message) error
