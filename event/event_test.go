package event_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.holon.dev/runtime/address"
	"go.holon.dev/runtime/broker"
	"go.holon.dev/runtime/envelope"
	"go.holon.dev/runtime/event"
	"go.holon.dev/runtime/header"
	"go.holon.dev/runtime/serializer"
)

func registry() *serializer.Registry[serializer.Value] {
	return serializer.NewRegistry[serializer.Value](serializer.JSON[serializer.Value]())
}

func publishEvent(t *testing.T, m *broker.Memory, namespace, routingKey string, codec serializer.Codec[serializer.Value], body serializer.Value) {
	t.Helper()
	data, err := codec.Marshal(body)
	require.NoError(t, err)
	m.Publish(namespace, routingKey, envelope.InboundMessage{
		ID:      "evt-1",
		Headers: map[string][]byte{header.EventKey: header.NewEvent(codec.Name()).Bytes()},
		Body:    data,
	})
}

func TestReceiveDecodesEvent(t *testing.T) {
	m := broker.NewMemory()
	reg := registry()
	codec, err := reg.Get("json")
	require.NoError(t, err)

	sub, err := event.Subscribe(m, address.NewEventAddress("stock", "nyc.ibm"), reg)
	require.NoError(t, err)
	defer sub.Dispose()

	publishEvent(t, m, "stock", "nyc.ibm", codec, serializer.Value{"price": 42.5})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := sub.Receive(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 42.5, ev.Body["price"], 0.0001)
}

func TestReceiveSilentlyDropsUndecodableMessages(t *testing.T) {
	m := broker.NewMemory()
	reg := registry()
	codec, err := reg.Get("json")
	require.NoError(t, err)

	sub, err := event.Subscribe(m, address.NewEventAddress("stock", "nyc.ibm"), reg)
	require.NoError(t, err)
	defer sub.Dispose()

	// Missing the event header entirely: should be silently dropped.
	m.Publish("stock", "nyc.ibm", envelope.InboundMessage{ID: "bad-1", Body: []byte("garbage")})
	publishEvent(t, m, "stock", "nyc.ibm", codec, serializer.Value{"price": 7.0})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := sub.Receive(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 7.0, ev.Body["price"], 0.0001)
}

func TestReceiveTimeoutExpiresOnNoMessage(t *testing.T) {
	m := broker.NewMemory()
	reg := registry()
	sub, err := event.Subscribe(m, address.NewEventAddress("stock", "nyc.ibm"), reg)
	require.NoError(t, err)
	defer sub.Dispose()

	_, err = sub.ReceiveTimeout(20 * time.Millisecond)
	assert.ErrorIs(t, err, broker.Timeout)
}

type recordingObserver struct {
	mu        sync.Mutex
	next      []event.Event
	errs      []error
	completed bool
}

func (o *recordingObserver) OnNext(e event.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.next = append(o.next, e)
}

func (o *recordingObserver) OnError(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs = append(o.errs, err)
}

func (o *recordingObserver) OnCompleted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed = true
}

func (o *recordingObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.next)
}

func TestAsStreamPushesDecodedEvents(t *testing.T) {
	m := broker.NewMemory()
	reg := registry()
	codec, err := reg.Get("json")
	require.NoError(t, err)

	sub, err := event.Subscribe(m, address.NewEventAddress("stock", "nyc.ibm"), reg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	obs := &recordingObserver{}
	sub.AsStream(ctx, obs)

	publishEvent(t, m, "stock", "nyc.ibm", codec, serializer.Value{"price": 1.0})
	publishEvent(t, m, "stock", "nyc.ibm", codec, serializer.Value{"price": 2.0})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && obs.count() < 2 {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, 2, obs.count())
}
