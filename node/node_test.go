package node_test

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
	"go.holon.dev/runtime/node"
	"go.holon.dev/runtime/service"
)

type echoBehaviour struct {
	mu    sync.Mutex
	count int
}

func (b *echoBehaviour) Handle(ctx context.Context, e envelope.Envelope) error {
	b.mu.Lock()
	b.count++
	b.mu.Unlock()
	return nil
}

func (b *echoBehaviour) seen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
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

func TestHostSetsUpAndReceives(t *testing.T) {
	m := broker.NewMemory()
	n := node.New("n1", m)

	addr := address.NewServiceAddress("billing", "invoices.create")
	behaviour := &echoBehaviour{}
	svc := service.New(addr, service.Singleton, service.Serial, behaviour, n.Adapter())
	require.NoError(t, n.Host(addr, svc))

	m.Publish("billing", "invoices.create", envelope.InboundMessage{ID: "1"})
	waitFor(t, time.Second, func() bool { return behaviour.seen() == 1 })
}

func TestHostTwiceAtSameAddressFails(t *testing.T) {
	m := broker.NewMemory()
	n := node.New("n1", m)

	addr := address.NewServiceAddress("billing", "invoices.create")
	svc1 := service.New(addr, service.Singleton, service.Serial, &echoBehaviour{}, n.Adapter())
	svc2 := service.New(addr, service.Singleton, service.Serial, &echoBehaviour{}, n.Adapter())

	require.NoError(t, n.Host(addr, svc1))
	assert.Error(t, n.Host(addr, svc2))
}

func TestUnhostDisposesService(t *testing.T) {
	m := broker.NewMemory()
	n := node.New("n1", m)

	addr := address.NewServiceAddress("billing", "invoices.create")
	behaviour := &echoBehaviour{}
	svc := service.New(addr, service.Singleton, service.Serial, behaviour, n.Adapter())
	require.NoError(t, n.Host(addr, svc))
	require.NoError(t, n.Unhost(addr))

	m.Publish("billing", "invoices.create", envelope.InboundMessage{ID: "1"})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, behaviour.seen())
}

func TestResetupRepointsEveryHostedService(t *testing.T) {
	m1 := broker.NewMemory()
	n := node.New("n1", m1)

	addr := address.NewServiceAddress("billing", "invoices.create")
	behaviour := &echoBehaviour{}
	svc := service.New(addr, service.Singleton, service.Serial, behaviour, n.Adapter())
	require.NoError(t, n.Host(addr, svc))

	m2 := broker.NewMemory()
	require.NoError(t, n.Resetup(m2))

	m2.Publish("billing", "invoices.create", envelope.InboundMessage{ID: "2"})
	waitFor(t, time.Second, func() bool { return behaviour.seen() == 1 })

	m1.Publish("billing", "invoices.create", envelope.InboundMessage{ID: "1"})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, behaviour.seen())
}

func TestCloseDisposesAllHostedServices(t *testing.T) {
	m := broker.NewMemory()
	n := node.New("n1", m)

	addr1 := address.NewServiceAddress("billing", "invoices.create")
	addr2 := address.NewServiceAddress("billing", "invoices.cancel")
	b1, b2 := &echoBehaviour{}, &echoBehaviour{}
	require.NoError(t, n.Host(addr1, service.New(addr1, service.Singleton, service.Serial, b1, n.Adapter())))
	require.NoError(t, n.Host(addr2, service.New(addr2, service.Singleton, service.Serial, b2, n.Adapter())))

	require.NoError(t, n.Close())

	m.Publish("billing", "invoices.create", envelope.InboundMessage{ID: "1"})
	m.Publish("billing", "invoices.cancel", envelope.InboundMessage{ID: "1"})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, b1.seen())
	assert.Equal(t, 0, b2.seen())
}
