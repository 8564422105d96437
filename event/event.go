/*
Package event implements Subscription: a typed, lazy consumer of a
single broker queue bound to an EventAddress, offering both a pull-based
Receive/ReceiveTimeout pair and an observer-style push bridge built on
the same decode pipeline.
*/
package event

import (
	"context"
	"time"

	"go.holon.dev/runtime/address"
	"go.holon.dev/runtime/broker"
	"go.holon.dev/runtime/envelope"
	"go.holon.dev/runtime/errors"
	"go.holon.dev/runtime/header"
	"go.holon.dev/runtime/serializer"
)

// Event is the decoded message yielded by a Subscription: the
// deserialized body plus the raw envelope it was built from, kept for
// callers that need headers or the originating node.
type Event struct {
	Body     serializer.Value
	Envelope envelope.Envelope
}

// Observer receives push-style delivery from Subscription.AsStream: one
// OnNext per successfully decoded event, one OnError per message that
// fails to decode (delivery continues), and exactly one of
// OnError/OnCompleted to end the subscription.
type Observer interface {
	OnNext(e Event)
	OnError(err error)
	OnCompleted()
}

// Subscription owns one broker queue bound to an EventAddress and
// decodes every delivery through the versioned event header and
// registry lookup before handing it to a caller.
type Subscription struct {
	Address  address.EventAddress
	registry *serializer.Registry[serializer.Value]
	queue    broker.Inlet
}

// Subscribe declares a topic exchange at addr.Namespace, a private,
// non-durable, exclusive queue bound to addr.RoutingKey, and returns a
// Subscription reading from it. Every subscriber gets an independent
// queue, so every matching publish is delivered to every subscription
// (fanout-by-topic).
func Subscribe(adapter broker.Adapter, addr address.EventAddress, registry *serializer.Registry[serializer.Value]) (*Subscription, error) {
	if err := adapter.DeclareExchange(addr.Namespace, "topic", true, false); err != nil {
		return nil, err
	}
	name := addr.String() + "%" + broker.RandomSuffix(20)
	queue, err := adapter.DeclareQueue(name, false, true, true, addr.Namespace, []string{addr.RoutingKey}, nil)
	if err != nil {
		return nil, err
	}
	return &Subscription{Address: addr, registry: registry, queue: queue}, nil
}

// decode runs the header/serializer/body pipeline over one inbound
// message, returning the inner error unchanged so callers can apply
// their own silent-drop vs. propagate policy.
func (s *Subscription) decode(msg envelope.InboundMessage) (Event, error) {
	e := envelope.New(msg, nil)

	raw, ok := e.Header(header.EventKey)
	if !ok {
		return Event{}, errors.New("event: missing event header")
	}
	h, err := header.ParseEvent(raw)
	if err != nil {
		return Event{}, errors.Wrap(err, "event: invalid header")
	}

	codec, err := s.registry.Get(h.Serializer)
	if err != nil {
		return Event{}, errors.Wrapf(err, "event: unsupported serializer %q", h.Serializer)
	}

	var body serializer.Value
	if err := codec.Unmarshal(e.Body, &body); err != nil {
		return Event{}, errors.Wrap(err, "event: failed to decode body")
	}
	return Event{Body: body, Envelope: e}, nil
}

// Receive suspends until a message decodes successfully, silently
// dropping any that fail the decode pipeline, or until ctx is done.
func (s *Subscription) Receive(ctx context.Context) (Event, error) {
	for {
		msg, err := s.queue.Receive(ctx)
		if err != nil {
			return Event{}, err
		}
		ev, err := s.decode(msg)
		if err != nil {
			continue
		}
		return ev, nil
	}
}

// ReceiveTimeout is Receive with a wall-clock deadline applied per
// underlying queue receive: a long run of malformed messages can exceed
// the deadline even though each individual pull succeeded.
func (s *Subscription) ReceiveTimeout(d time.Duration) (Event, error) {
	for {
		msg, err := s.queue.ReceiveTimeout(d)
		if err != nil {
			return Event{}, err
		}
		ev, err := s.decode(msg)
		if err != nil {
			continue
		}
		return ev, nil
	}
}

// AsStream starts (on every call) a goroutine pushing every decoded event
// to obs.OnNext, a decode failure to obs.OnError without stopping the
// subscription, and a terminal stream error to obs.OnError followed by
// return; a clean stream close calls obs.OnCompleted. It runs until ctx
// is done or the queue stream ends.
func (s *Subscription) AsStream(ctx context.Context, obs Observer) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				obs.OnCompleted()
				return
			case item, ok := <-s.queue.AsStream():
				if !ok {
					obs.OnCompleted()
					return
				}
				if item.Err != nil {
					obs.OnError(item.Err)
					return
				}
				ev, err := s.decode(item.Message)
				if err != nil {
					obs.OnError(err)
					continue
				}
				obs.OnNext(ev)
			}
		}
	}()
}

// Dispose releases the underlying queue. Idempotent.
func (s *Subscription) Dispose() error {
	return s.queue.Dispose()
}
