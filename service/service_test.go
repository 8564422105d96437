package service_test

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
	"go.holon.dev/runtime/errors"
	"go.holon.dev/runtime/service"
)

type recordingBehaviour struct {
	mu   sync.Mutex
	seen []string
	fail bool
}

func (b *recordingBehaviour) Handle(_ context.Context, e envelope.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seen = append(b.seen, string(e.Body))
	if b.fail {
		return errors.New("boom")
	}
	return nil
}

func (b *recordingBehaviour) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.seen)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestSingletonServiceReceivesPublishedMessage(t *testing.T) {
	m := broker.NewMemory()
	behaviour := &recordingBehaviour{}
	addr := address.NewServiceAddress("orders", "created")

	svc := service.New(addr, service.Singleton, service.Serial, behaviour, m)
	require.NoError(t, svc.Setup())
	defer svc.Dispose()

	m.Publish("orders", "created", envelope.InboundMessage{ID: "m-1", Body: []byte("hello")})

	waitFor(t, time.Second, func() bool { return behaviour.count() == 1 })
}

func TestSetupTwiceFails(t *testing.T) {
	m := broker.NewMemory()
	addr := address.NewServiceAddress("orders", "created")
	svc := service.New(addr, service.Singleton, service.Serial, &recordingBehaviour{}, m)

	require.NoError(t, svc.Setup())
	defer svc.Dispose()

	assert.ErrorIs(t, svc.Setup(), service.ErrAlreadySetup)
}

func TestFanoutServiceEachSubscriberSeesEveryMessage(t *testing.T) {
	m := broker.NewMemory()
	addr := address.NewServiceAddress("orders", "created")

	a := &recordingBehaviour{}
	b := &recordingBehaviour{}
	svcA := service.New(addr, service.Fanout, service.Serial, a, m)
	svcB := service.New(addr, service.Fanout, service.Serial, b, m)
	require.NoError(t, svcA.Setup())
	require.NoError(t, svcB.Setup())
	defer svcA.Dispose()
	defer svcB.Dispose()

	m.Publish("orders", "created", envelope.InboundMessage{ID: "m-1", Body: []byte("hi")})

	waitFor(t, time.Second, func() bool { return a.count() == 1 && b.count() == 1 })
}

func TestDisposeIsIdempotentAndStopsDelivery(t *testing.T) {
	m := broker.NewMemory()
	behaviour := &recordingBehaviour{}
	addr := address.NewServiceAddress("orders", "created")
	svc := service.New(addr, service.Balanced, service.Serial, behaviour, m)
	require.NoError(t, svc.Setup())

	require.NoError(t, svc.Dispose())
	require.NoError(t, svc.Dispose())

	m.Publish("orders", "created", envelope.InboundMessage{ID: "m-1", Body: []byte("late")})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, behaviour.count())
}

func TestUnhandledExceptionCallbackInvokedOnHandlerError(t *testing.T) {
	m := broker.NewMemory()
	behaviour := &recordingBehaviour{fail: true}
	addr := address.NewServiceAddress("orders", "created")

	var mu sync.Mutex
	var reported error
	svc := service.New(addr, service.Singleton, service.Serial, behaviour, m,
		service.WithUnhandledException(func(_ service.Behaviour, err error) {
			mu.Lock()
			reported = err
			mu.Unlock()
		}))
	require.NoError(t, svc.Setup())
	defer svc.Dispose()

	m.Publish("orders", "created", envelope.InboundMessage{ID: "m-1", Body: []byte("boom")})

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return reported != nil
	})
}

func TestResetupPointsAtNewAdapter(t *testing.T) {
	first := broker.NewMemory()
	second := broker.NewMemory()
	behaviour := &recordingBehaviour{}
	addr := address.NewServiceAddress("orders", "created")

	svc := service.New(addr, service.Singleton, service.Serial, behaviour, first)
	require.NoError(t, svc.Setup())

	require.NoError(t, svc.Resetup(second))
	defer svc.Dispose()

	first.Publish("orders", "created", envelope.InboundMessage{ID: "stale", Body: []byte("stale")})
	second.Publish("orders", "created", envelope.InboundMessage{ID: "fresh", Body: []byte("fresh")})

	waitFor(t, time.Second, func() bool { return behaviour.count() == 1 })
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, behaviour.count())
}
