package broker

import (
	"context"
	"sync"
	"time"

	driver "github.com/rabbitmq/amqp091-go"
	"go.holon.dev/runtime/envelope"
	"go.holon.dev/runtime/errors"
	xlog "go.holon.dev/runtime/log"
)

// Delivery is a raw message received from the broker server.
type Delivery = driver.Delivery

// Cancelled is returned by Receive when its cancel token or context is
// tripped before a message arrives.
var Cancelled = errors.New("receive cancelled")

// Timeout is returned by ReceiveTimeout when its deadline elapses before
// a message arrives.
var Timeout = errors.New("receive timeout")

// SubscribeOptions allow a consumer to specify the settings and behavior
// for a message delivery channel with the broker.
type SubscribeOptions struct {
	Queue     string
	AutoAck   bool
	Exclusive bool
	Arguments map[string]interface{}
}

// Queue is a cancellable, timed, observable source of inbound messages
// pulled from a single broker queue. It is the concrete realization of the
// BrokerQueue contract: at most one live subscription is held at a time,
// and Dispose releases it even if a receive is mid-flight.
type Queue struct {
	name    string
	subID   string
	log     xlog.Logger
	session *session
	deliver <-chan Delivery
	stream  chan StreamItem
	streamErr chan error
	disposed bool
	ctx     context.Context
	halt    context.CancelFunc
	mu      sync.Mutex
}

// newQueue declares (or re-validates) a queue against the given session and
// subscribes to it immediately.
func newQueue(s *session, spec QueueSpec) (*Queue, error) {
	if !s.isReady() {
		return nil, errors.New(errNotConnected)
	}
	name, err := s.addQueue(spec, s.channel)
	if err != nil {
		return nil, err
	}

	id := getName(s.name)
	dc, err := s.channel.Consume(name, id, false, spec.Exclusive, false, false, spec.Arguments)
	if err != nil {
		return nil, err
	}

	ctx, halt := context.WithCancel(context.Background())
	q := &Queue{
		name:    name,
		subID:   id,
		log:     s.log,
		session: s,
		deliver: dc,
		ctx:     ctx,
		halt:    halt,
	}
	return q, nil
}

// Name returns the underlying broker queue name.
func (q *Queue) Name() string {
	return q.name
}

// Bind adds an additional binding to this queue. Idempotent on repeated
// identical bindings (the broker itself treats re-binding as a no-op).
func (q *Queue) Bind(exchange string, routingKey ...string) error {
	if !q.session.isReady() {
		return errors.New(errNotConnected)
	}
	return q.session.addBinding(Binding{Exchange: exchange, Queue: q.name, RoutingKey: routingKey}, q.session.channel)
}

// Receive suspends until a message is available or ctx is done.
func (q *Queue) Receive(ctx context.Context) (envelope.InboundMessage, error) {
	select {
	case d, ok := <-q.deliver:
		if !ok {
			return envelope.InboundMessage{}, errors.New(errShutdown)
		}
		return toInbound(d), nil
	case <-q.ctx.Done():
		return envelope.InboundMessage{}, Cancelled
	case <-ctx.Done():
		return envelope.InboundMessage{}, Cancelled
	}
}

// ReceiveTimeout is Receive with a deadline instead of a caller context.
func (q *Queue) ReceiveTimeout(d time.Duration) (envelope.InboundMessage, error) {
	select {
	case delivery, ok := <-q.deliver:
		if !ok {
			return envelope.InboundMessage{}, errors.New(errShutdown)
		}
		return toInbound(delivery), nil
	case <-q.ctx.Done():
		return envelope.InboundMessage{}, Cancelled
	case <-time.After(d):
		return envelope.InboundMessage{}, Timeout
	}
}

// StreamItem is one element of the sequence returned by AsStream: either a
// successfully pulled message, or the terminal error the stream closed on.
type StreamItem struct {
	Message envelope.InboundMessage
	Err     error
}

// AsStream returns an infinite, non-restartable sequence of inbound
// messages. It is dropped (the channel is closed) when the queue is
// disposed.
func (q *Queue) AsStream() <-chan StreamItem {
	q.mu.Lock()
	if q.stream == nil {
		q.stream = make(chan StreamItem)
		go q.pump()
	}
	ch := q.stream
	q.mu.Unlock()
	return ch
}

func (q *Queue) pump() {
	defer close(q.stream)
	for {
		select {
		case <-q.ctx.Done():
			return
		case d, ok := <-q.deliver:
			if !ok {
				select {
				case q.stream <- StreamItem{Err: errors.New(errShutdown)}:
				case <-q.ctx.Done():
				}
				return
			}
			select {
			case q.stream <- StreamItem{Message: toInbound(d)}:
			case <-q.ctx.Done():
				return
			}
		}
	}
}

// Dispose releases the broker consumer and cancels outstanding receives
// with Cancelled. Idempotent.
func (q *Queue) Dispose() error {
	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return nil
	}
	q.disposed = true
	q.mu.Unlock()

	q.halt()
	if q.session.isReady() {
		return q.session.channel.Cancel(q.subID, false)
	}
	return nil
}

func toInbound(d Delivery) envelope.InboundMessage {
	headers := make(map[string][]byte, len(d.Headers))
	for k, v := range d.Headers {
		switch tv := v.(type) {
		case []byte:
			headers[k] = tv
		case string:
			headers[k] = []byte(tv)
		}
	}
	id := d.MessageId
	if id == "" {
		id = d.CorrelationId
	}
	return envelope.InboundMessage{ID: id, ReplyTo: d.ReplyTo, Headers: headers, Body: d.Body}
}
