package broker

import (
	"context"
	"time"

	driver "github.com/rabbitmq/amqp091-go"
	"go.holon.dev/runtime/address"
	"go.holon.dev/runtime/envelope"
	"go.holon.dev/runtime/errors"
	xlog "go.holon.dev/runtime/log"
)

// Inlet is the narrow contract the core's service, rpc, and event packages
// depend on to pull messages from a queue: the BrokerQueue contract
// described in the external interfaces. It is satisfied by *Queue and, in
// tests, by Memory's in-process fakes.
type Inlet interface {
	Bind(exchange string, routingKey ...string) error
	Receive(ctx context.Context) (envelope.InboundMessage, error)
	ReceiveTimeout(d time.Duration) (envelope.InboundMessage, error)
	AsStream() <-chan StreamItem
	Dispose() error
}

// Adapter is the narrow contract the core depends on for declaring broker
// topology and replying to RPC requests. It is satisfied by *Node (below)
// and, in tests, by Memory.
type Adapter interface {
	DeclareExchange(name, kind string, durable, autoDelete bool) error
	DeclareQueue(name string, durable, exclusive, autoDelete bool, exchange string, routingKey []string, args map[string]interface{}) (Inlet, error)
	Reply(replyTo address.ServiceAddress, correlationID string, headers map[string][]byte, body []byte) error
}

// Node wires a single broker session (a consumer-side Queue factory plus a
// shared Publisher for replies) into the Adapter contract.
type Node struct {
	addr string
	log  xlog.Logger
	opts []Option

	consumerSession *session
	publisher       *Publisher
}

// NewNode opens a broker connection and returns the Adapter implementation
// services, the RPC dispatcher, and event subscriptions are built against.
func NewNode(addr string, options ...Option) (*Node, error) {
	cs, err := open(addr, options...)
	if err != nil {
		return nil, err
	}
	pub, err := NewPublisher(addr, options...)
	if err != nil {
		return nil, err
	}
	return &Node{addr: addr, log: cs.log, opts: options, consumerSession: cs, publisher: pub}, nil
}

// DeclareExchange declares a topic (or other kind) exchange.
func (n *Node) DeclareExchange(name, kind string, durable, autoDelete bool) error {
	if !n.consumerSession.isReady() {
		return errors.New(errNotConnected)
	}
	return n.consumerSession.addExchange(Exchange{Name: name, Kind: kind, Durable: durable, AutoDelete: autoDelete}, n.consumerSession.channel)
}

// DeclareQueue declares a queue (with the given durability/exclusivity),
// binds it to exchange/routingKey, and returns a live handle to receive
// from it.
func (n *Node) DeclareQueue(name string, durable, exclusive, autoDelete bool, exchange string, routingKey []string, args map[string]interface{}) (Inlet, error) {
	spec := QueueSpec{Name: name, Durable: durable, Exclusive: exclusive, AutoDelete: autoDelete, Arguments: args}
	q, err := newQueue(n.consumerSession, spec)
	if err != nil {
		return nil, err
	}
	if exchange != "" {
		if err := q.Bind(exchange, routingKey...); err != nil {
			_ = q.Dispose()
			return nil, err
		}
	}
	return q, nil
}

// Reply publishes an RPC/event response routed to replyTo's routing key,
// echoing correlationID and carrying the given headers.
func (n *Node) Reply(replyTo address.ServiceAddress, correlationID string, headers map[string][]byte, body []byte) error {
	table := make(driver.Table, len(headers))
	for k, v := range headers {
		table[k] = v
	}
	return n.publisher.Reply(replyTo.RoutingKey, correlationID, table, body)
}

// Publisher exposes the underlying Publisher for callers (e.g. the rpc
// package) that need to submit RPC requests rather than just replies.
func (n *Node) Publisher() *Publisher {
	return n.publisher
}

// Name returns the session identifier used to prefix generated names.
func (n *Node) Name() string {
	return n.consumerSession.name
}

// Close releases both the consumer-side session and the reply publisher.
func (n *Node) Close() error {
	if err := n.publisher.Close(); err != nil {
		return err
	}
	return n.consumerSession.close()
}
