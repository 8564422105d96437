package rpc_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.holon.dev/runtime/address"
	"go.holon.dev/runtime/envelope"
	"go.holon.dev/runtime/errors"
	"go.holon.dev/runtime/header"
	"go.holon.dev/runtime/rpc"
	"go.holon.dev/runtime/serializer"
)

// calc implements ICalc: Add(a, b int) (int, error) and
// Divide(a, b int) (int, error).
type calc struct{}

func (calc) Operations() []rpc.OperationSpec {
	return []rpc.OperationSpec{
		{
			Name: "Add",
			Arguments: []rpc.ArgumentSpec{
				{Name: "a", Type: "int"},
				{Name: "b", Type: "int"},
			},
			ReturnType:         "int",
			AllowIntrospection: true,
		},
		{
			Name: "Divide",
			Arguments: []rpc.ArgumentSpec{
				{Name: "a", Type: "int"},
				{Name: "b", Type: "int"},
			},
			ReturnType:         "int",
			AllowIntrospection: true,
		},
	}
}

func (calc) Add(a, b int) (int, error) {
	sum := a + b
	if sum > 1000 {
		return 0, rpc.NewException("Overflow", "sum too big")
	}
	return sum, nil
}

func (calc) Divide(a, b int) (int, error) {
	if b == 0 {
		return 0, rpc.NewException("DivideByZero", "cannot divide by zero")
	}
	return a / b, nil
}

type recordingReplier struct {
	replyTo address.ServiceAddress
	corrID  string
	headers map[string][]byte
	body    []byte
	calls   int
}

func (r *recordingReplier) Reply(replyTo address.ServiceAddress, correlationID string, headers map[string][]byte, body []byte) error {
	r.replyTo = replyTo
	r.corrID = correlationID
	r.headers = headers
	r.body = body
	r.calls++
	return nil
}

func newRegistry() *serializer.Registry[serializer.Value] {
	return serializer.NewRegistry[serializer.Value](
		serializer.JSON[serializer.Value](),
		serializer.YAML[serializer.Value](),
		serializer.Protobuf[serializer.Value](),
	)
}

func decode(t *testing.T, codec serializer.Codec[serializer.Value], body []byte) serializer.Value {
	t.Helper()
	var v serializer.Value
	require.NoError(t, codec.Unmarshal(body, &v))
	return v
}

func request(t *testing.T, codec serializer.Codec[serializer.Value], id, iface, op string, args map[string]interface{}) (envelope.Envelope, *recordingReplier) {
	t.Helper()
	body, err := codec.Marshal(serializer.Value{"interface": iface, "operation": op, "arguments": args})
	require.NoError(t, err)

	replier := &recordingReplier{}
	msg := envelope.InboundMessage{
		ID:      id,
		ReplyTo: "caller-sink",
		Headers: map[string][]byte{header.RPCKey: header.NewRPC(codec.Name(), header.Single).Bytes()},
		Body:    body,
	}
	return envelope.New(msg, replier), replier
}

func TestAddSucceeds(t *testing.T) {
	registry := newRegistry()
	codec, err := registry.Get("json")
	require.NoError(t, err)

	b := rpc.NewBehaviour(registry)
	require.NoError(t, b.Bind("ICalc", calc{}, true))

	e, replier := request(t, codec, "U1", "ICalc", "Add", map[string]interface{}{"a": 2, "b": 3})
	require.NoError(t, b.Handle(context.Background(), e))

	require.Equal(t, 1, replier.calls)
	assert.Equal(t, "U1", replier.corrID)

	v := decode(t, codec, replier.body)
	assert.InDelta(t, 5, v["ok"], 0.0001)
}

func TestUnknownOperationReturnsNotFound(t *testing.T) {
	registry := newRegistry()
	codec, _ := registry.Get("json")
	b := rpc.NewBehaviour(registry)
	require.NoError(t, b.Bind("ICalc", calc{}, true))

	e, replier := request(t, codec, "U2", "ICalc", "Divide2", nil)
	require.NoError(t, b.Handle(context.Background(), e))

	v := decode(t, codec, replier.body)
	assert.Equal(t, rpc.CodeNotFound, v["error_code"])
}

func TestMissingRequiredArgumentReturnsBadRequest(t *testing.T) {
	registry := newRegistry()
	codec, _ := registry.Get("json")
	b := rpc.NewBehaviour(registry)
	require.NoError(t, b.Bind("ICalc", calc{}, true))

	e, replier := request(t, codec, "U3", "ICalc", "Add", map[string]interface{}{"a": 2})
	require.NoError(t, b.Handle(context.Background(), e))

	v := decode(t, codec, replier.body)
	assert.Equal(t, rpc.CodeBadRequest, v["error_code"])
	assert.Contains(t, v["error_message"], "b")
}

func TestHandlerExceptionBecomesStructuredResponse(t *testing.T) {
	registry := newRegistry()
	codec, _ := registry.Get("json")
	b := rpc.NewBehaviour(registry)
	require.NoError(t, b.Bind("ICalc", calc{}, true))

	e, replier := request(t, codec, "U4", "ICalc", "Add", map[string]interface{}{"a": 900, "b": 900})
	require.NoError(t, b.Handle(context.Background(), e))

	v := decode(t, codec, replier.body)
	assert.Equal(t, "Overflow", v["error_code"])
	assert.Equal(t, "sum too big", v["error_message"])
}

func TestEmptyIDFailsWithoutReply(t *testing.T) {
	registry := newRegistry()
	codec, _ := registry.Get("json")
	b := rpc.NewBehaviour(registry)
	require.NoError(t, b.Bind("ICalc", calc{}, true))

	e, replier := request(t, codec, "", "ICalc", "Add", map[string]interface{}{"a": 1, "b": 1})
	err := b.Handle(context.Background(), e)

	assert.Error(t, err)
	assert.Equal(t, 0, replier.calls)
}

func TestBindDuplicateInterfaceFails(t *testing.T) {
	registry := newRegistry()
	b := rpc.NewBehaviour(registry)
	require.NoError(t, b.Bind("ICalc", calc{}, true))
	assert.Error(t, b.Bind("ICalc", calc{}, true))
}

func TestIntrospectionListsOnlyFlaggedInterfaces(t *testing.T) {
	registry := newRegistry()
	codec, _ := registry.Get("json")
	b := rpc.NewBehaviour(registry)
	require.NoError(t, b.Bind("ICalc", calc{}, true))

	e, replier := request(t, codec, "U5", "IInterfaceQuery001", "GetInterfaces", nil)
	require.NoError(t, b.Handle(context.Background(), e))

	v := decode(t, codec, replier.body)
	names, ok := v["ok"].([]interface{})
	require.True(t, ok)
	var found bool
	for _, n := range names {
		if n == "ICalc" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestIntrospectionDescribesOperations(t *testing.T) {
	registry := newRegistry()
	codec, _ := registry.Get("json")
	b := rpc.NewBehaviour(registry)
	require.NoError(t, b.Bind("ICalc", calc{}, true))

	e, replier := request(t, codec, "U6", "IInterfaceQuery001", "GetInterfaceInfo", map[string]interface{}{"Name": "ICalc"})
	require.NoError(t, b.Handle(context.Background(), e))

	v := decode(t, codec, replier.body)
	require.NotContains(t, v, "error_code")
}

func TestUnsupportedSerializerRaisesError(t *testing.T) {
	registry := newRegistry()
	b := rpc.NewBehaviour(registry)
	require.NoError(t, b.Bind("ICalc", calc{}, true))

	replier := &recordingReplier{}
	msg := envelope.InboundMessage{
		ID:      "U7",
		ReplyTo: "caller-sink",
		Headers: map[string][]byte{header.RPCKey: header.NewRPC("xml", header.Single).Bytes()},
		Body:    []byte("<ignored/>"),
	}
	e := envelope.New(msg, replier)

	err := b.Handle(context.Background(), e)
	assert.True(t, errors.Is(err, serializer.ErrUnknown))
	assert.Equal(t, 0, replier.calls)
}
