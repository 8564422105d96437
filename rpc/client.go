package rpc

import (
	"context"
	"sync"

	"go.holon.dev/runtime/broker"
	"go.holon.dev/runtime/envelope"
	"go.holon.dev/runtime/errors"
	"go.holon.dev/runtime/header"
	"go.holon.dev/runtime/serializer"
)

// Client submits single-call RPC requests and correlates their replies
// against a private, auto-delete sink queue. Grounded on the
// per-registration/auto-deregistration correlation pattern used for
// response routing: a pending map keyed by the request's own id, resolved
// (and removed) the moment a reply with that correlation id arrives.
type Client struct {
	publisher      *broker.Publisher
	sink           broker.Inlet
	sinkName       string
	registry       *serializer.Registry[serializer.Value]
	serializerName string

	mu      sync.Mutex
	pending map[string]chan envelope.InboundMessage
}

// NewClient declares a private, exclusive, auto-delete sink queue on
// adapter and starts pumping replies into pending Call invocations.
func NewClient(adapter broker.Adapter, publisher *broker.Publisher, registry *serializer.Registry[serializer.Value], serializerName string) (*Client, error) {
	sinkName := "rpc.client." + broker.RandomSuffix(10)
	sink, err := adapter.DeclareQueue(sinkName, false, true, true, "", nil, nil)
	if err != nil {
		return nil, err
	}

	c := &Client{
		publisher:      publisher,
		sink:           sink,
		sinkName:       sinkName,
		registry:       registry,
		serializerName: serializerName,
		pending:        make(map[string]chan envelope.InboundMessage),
	}
	go c.pump()
	return c, nil
}

func (c *Client) pump() {
	for item := range c.sink.AsStream() {
		if item.Err != nil {
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[item.Message.ID]
		if ok {
			delete(c.pending, item.Message.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- item.Message
		}
	}
}

// Call submits a single-call RPC request to exchange/routingKey and
// blocks until the reply arrives or ctx is done.
func (c *Client) Call(ctx context.Context, exchange, routingKey, interfaceName, operation string, arguments map[string]interface{}) (Response, error) {
	codec, err := c.registry.Get(c.serializerName)
	if err != nil {
		return Response{}, err
	}

	body, err := codec.Marshal(serializer.Value{
		"interface": interfaceName,
		"operation": operation,
		"arguments": arguments,
	})
	if err != nil {
		return Response{}, errors.Wrap(err, "rpc: failed to marshal request")
	}

	msg := broker.Message{
		Headers: map[string]interface{}{header.RPCKey: header.NewRPC(c.serializerName, header.Single).Bytes()},
		Body:    body,
	}

	id, err := c.publisher.RequestRPC(exchange, routingKey, c.sinkName, msg)
	if err != nil {
		return Response{}, err
	}

	ch := make(chan envelope.InboundMessage, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	select {
	case reply := <-ch:
		var v serializer.Value
		if err := codec.Unmarshal(reply.Body, &v); err != nil {
			return Response{}, errors.Wrap(err, "rpc: failed to unmarshal response")
		}
		return responseFromValue(v), nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return Response{}, ctx.Err()
	}
}

// Close disposes the sink queue, ending the reply pump.
func (c *Client) Close() error {
	return c.sink.Dispose()
}

func responseFromValue(v serializer.Value) Response {
	if code, ok := v["error_code"].(string); ok && code != "" {
		msg, _ := v["error_message"].(string)
		return errorResponse(code, msg)
	}
	return Response{OK: v["ok"]}
}
