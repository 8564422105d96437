package envelope_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.holon.dev/runtime/address"
	"go.holon.dev/runtime/envelope"
)

type fakeReplier struct {
	replyTo address.ServiceAddress
	corrID  string
	headers map[string][]byte
	body    []byte
}

func (f *fakeReplier) Reply(replyTo address.ServiceAddress, correlationID string, headers map[string][]byte, body []byte) error {
	f.replyTo = replyTo
	f.corrID = correlationID
	f.headers = headers
	f.body = body
	return nil
}

func TestNewResolvesReplyToFromMessage(t *testing.T) {
	node := &fakeReplier{}
	msg := envelope.InboundMessage{ID: "req-1", ReplyTo: "sink-queue", Body: []byte("hi")}
	e := envelope.New(msg, node)

	assert.Equal(t, "req-1", e.ID)
	assert.Equal(t, "sink-queue", e.ReplyTo.RoutingKey)
	assert.Equal(t, []byte("hi"), e.Body)
}

func TestReplyDelegatesToNode(t *testing.T) {
	node := &fakeReplier{}
	e := envelope.New(envelope.InboundMessage{ID: "req-1", ReplyTo: "sink-queue"}, node)

	assert.NoError(t, e.Reply(map[string][]byte{"X-RPC": []byte("1.1 json Single")}, []byte("body")))
	assert.Equal(t, "req-1", node.corrID)
	assert.Equal(t, "sink-queue", node.replyTo.RoutingKey)
	assert.Equal(t, []byte("body"), node.body)
}

func TestHeaderLookup(t *testing.T) {
	e := envelope.Envelope{Headers: map[string][]byte{"X-Event": []byte("1.1 json")}}
	v, ok := e.Header("X-Event")
	assert.True(t, ok)
	assert.Equal(t, []byte("1.1 json"), v)

	_, ok = e.Header("missing")
	assert.False(t, ok)
}
