/*
Package envelope defines the immutable carrier type that every inbound
broker message is wrapped into before it reaches a service behaviour, an
RPC dispatcher, or an event subscription.
*/
package envelope

import "go.holon.dev/runtime/address"

// Replier is the back-reference an Envelope carries to the node that
// received it. It is the only way a behaviour can publish an RPC reply.
// Kept as a narrow interface, rather than a concrete node type, so this
// package never imports anything above it in the dependency graph; the
// reference is non-owning and its lifetime is bounded by the node's.
type Replier interface {
	Reply(replyTo address.ServiceAddress, correlationID string, headers map[string][]byte, body []byte) error
}

// InboundMessage is the opaque broker delivery an Envelope is built from:
// a unique delivery identifier, the routing key to reply on, the raw
// header map, and the message body.
type InboundMessage struct {
	ID      string
	ReplyTo string
	Headers map[string][]byte
	Body    []byte
}

// Envelope is the immutable record handed to service behaviours, the RPC
// dispatcher, and event subscriptions. An RPC request envelope MUST carry
// a non-zero ID; an RPC reply envelope MUST echo it as the correlation id.
type Envelope struct {
	ID      string
	ReplyTo address.ServiceAddress
	Headers map[string][]byte
	Body    []byte
	Node    Replier
}

// New wraps an inbound broker message into an Envelope, attaching the node
// back-reference and resolving the reply-to address from the delivery's
// own reply-to routing key (replies are always routed via the default
// exchange, straight to that queue).
func New(msg InboundMessage, node Replier) Envelope {
	return Envelope{
		ID:      msg.ID,
		ReplyTo: address.ServiceAddress{RoutingKey: msg.ReplyTo},
		Headers: msg.Headers,
		Body:    msg.Body,
		Node:    node,
	}
}

// Header returns the raw bytes for the named header and whether it was
// present at all.
func (e Envelope) Header(name string) ([]byte, bool) {
	v, ok := e.Headers[name]
	return v, ok
}

// Reply publishes a response through the envelope's originating node,
// echoing the envelope's ID as the correlation id.
func (e Envelope) Reply(headers map[string][]byte, body []byte) error {
	return e.Node.Reply(e.ReplyTo, e.ID, headers, body)
}
