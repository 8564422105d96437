package broker

import (
	"time"
)

// Topology allows a session to specify the expected/required state on the
// message broker used.
type Topology struct {
	// Exchanges provide destinations where messages are sent.
	Exchanges []Exchange `json:"exchanges,omitempty" yaml:",omitempty"`

	// Queues store messages for consumption.
	Queues []QueueSpec `json:"queues,omitempty" yaml:",omitempty"`

	// Bindings connect exchange to queues to route messages.
	Bindings []Binding `json:"bindings,omitempty" yaml:",omitempty"`
}

// QueueSpec is the declarative description of a queue: its name and the
// durability/exclusivity/auto-delete flags and arguments it should be
// declared with. It is the Topology-level counterpart of the live Queue
// handle used to receive messages.
type QueueSpec struct {
	// Unique name for the queue, may be empty in which case a random and
	// unique name will be generated. This can be useful when creating
	// temporary queues.
	Name string `json:"name"`

	// Whether the queue should be restored on server restarts.
	Durable bool `json:"durable"`

	// Whether to automatically delete the queue when the last consumer
	// is closed.
	AutoDelete bool `json:"auto_delete" yaml:"auto_delete"`

	// Exclusive queues are only accessible by the connection that declares
	// them and will be deleted when the connection closes. Channels on other
	// connections will receive an error when attempting to declare, bind,
	// consume, purge or delete a queue with the same name. Used by Singleton
	// services as the uniqueness mechanism: a second declaration with the
	// same name fails.
	Exclusive bool `json:"exclusive"`

	// Additional arguments. See QueueOptions.AsArguments for the commonly
	// used x-* arguments this core exposes as typed settings.
	Arguments map[string]interface{} `json:"arguments,omitempty" yaml:"arguments,omitempty"`
}

// Exchange is an AMQP entity where messages are sent. Exchanges take a
// message and route it into zero or more queues; the routing algorithm
// depends on the exchange kind and the bindings in place.
type Exchange struct {
	// Unique name for the exchange.
	Name string `json:"name"`

	// Exchange kind: "direct", "fanout", "topic", or "headers".
	Kind string `json:"kind"`

	// Durable and non-auto-deleted exchanges survive server restarts.
	Durable bool `json:"durable"`

	// Non-durable and auto-deleted exchanges are removed once unbound.
	AutoDelete bool `json:"auto_delete" yaml:"auto_delete"`

	// Internal exchanges do not accept published messages directly.
	Internal bool `json:"internal"`

	// Additional arguments.
	Arguments map[string]interface{} `json:"arguments,omitempty" yaml:",omitempty"`
}

// Binding connects an exchange to a queue so that messages published to it
// will be routed to the queue when the publishing routing key matches.
type Binding struct {
	// Name of the exchange to bind.
	Exchange string `json:"exchange" yaml:"exchange"`

	// Name of the queue to bind.
	Queue string `json:"queue" yaml:"queue"`

	// Routing key patterns to bind with. A "topic" exchange expects
	// dot-segmented values (e.g. "stock.nyc.*" or "stock.#"); other
	// exchange kinds use or ignore the key depending on their kind.
	RoutingKey []string `json:"routing_key" yaml:"routing_key"`

	// Additional arguments.
	Arguments map[string]interface{} `json:"arguments,omitempty" yaml:",omitempty"`
}

// QueueOptions provide a helper mechanism to adjust commonly used per-queue
// configuration arguments.
type QueueOptions struct {
	// How long a message published to a queue can live before discarded.
	MessageTTL *time.Duration

	// How long a queue can be unused for before it is automatically deleted.
	Expiration *time.Duration

	// How many (ready) messages a queue can contain before it starts to
	// drop them from its head.
	MaxLength uint

	// Name of an exchange to which messages will be republished if they
	// are rejected or expire.
	DLExchange string

	// Replacement routing key used when a message is dead-lettered.
	DLRoutingKey string

	// Makes sure only one consumer at a time consumes from the queue,
	// failing over to another registered consumer if the active one dies.
	SingleActiveConsumer bool

	// Maximum number of priority levels the queue supports (0-9). If not
	// set, the queue will not support message priorities.
	MaxPriority uint8

	// Keep as many messages as possible on disk to reduce RAM usage.
	LazyMode bool

	// Determines what happens to a message when the queue's maximum
	// length is reached.
	Overflow OverflowMode
}

// AsArguments returns the options as a properly encoded set of arguments.
func (qo *QueueOptions) AsArguments() map[string]interface{} {
	list := make(map[string]interface{})
	if qo.MessageTTL != nil {
		list["x-message-ttl"] = qo.MessageTTL.Milliseconds()
	}
	if qo.Expiration != nil {
		list["x-expires"] = qo.Expiration.Milliseconds()
	}
	if qo.MaxLength > 0 {
		list["x-max-length"] = qo.MaxLength
	}
	if qo.DLExchange != "" {
		list["x-dead-letter-exchange"] = qo.DLExchange
	}
	if qo.DLRoutingKey != "" {
		list["x-dead-letter-routing-key"] = qo.DLRoutingKey
	}
	if qo.SingleActiveConsumer {
		list["x-single-active-consumer"] = true
	}
	if qo.MaxPriority <= 9 {
		list["x-max-priority"] = qo.MaxPriority
	}
	if qo.LazyMode {
		list["x-queue-mode"] = "lazy"
	}
	if qo.Overflow != "" {
		list["x-overflow"] = qo.Overflow
	}
	return list
}

// OverflowMode adjusts the behavior of a queue to handle rejected messages.
type OverflowMode string

const (
	// OverflowDropHead drops the oldest messages in the queue. Default.
	OverflowDropHead OverflowMode = "drop-head"

	// OverflowReject discards the most recently published messages.
	OverflowReject OverflowMode = "reject-publish"

	// OverflowRejectDL discards the most recently published messages and
	// sends them to the dead letter exchange, if provided.
	OverflowRejectDL OverflowMode = "reject-publish-dlx"
)
