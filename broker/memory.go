package broker

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.holon.dev/runtime/address"
	"go.holon.dev/runtime/envelope"
	"go.holon.dev/runtime/errors"
)

// Memory is an in-process Adapter implementation used to unit-test
// service, rpc, and event logic without a live broker. The teacher's own
// amqp package never exposed a narrow interface for the broker adapter (it
// only ever had concrete session/Consumer/Publisher types), so there was
// nothing to fake directly against; this is a from-scratch addition that
// implements the same Adapter/Inlet contract *Node does.
type Memory struct {
	mu        sync.Mutex
	exchanges map[string]string // name -> kind
	queues    map[string]*memQueue
	bindings  map[string][]binding // exchange -> bindings
}

type binding struct {
	queue      string
	routingKey string
}

// NewMemory returns an empty in-process broker.
func NewMemory() *Memory {
	return &Memory{
		exchanges: make(map[string]string),
		queues:    make(map[string]*memQueue),
		bindings:  make(map[string][]binding),
	}
}

// DeclareExchange registers an exchange kind. Declaring the same name
// twice is a no-op.
func (m *Memory) DeclareExchange(name, kind string, _, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchanges[name] = kind
	return nil
}

// DeclareQueue registers a queue (failing if `exclusive` and the name is
// already taken, mirroring the broker's exclusivity uniqueness mechanism)
// and binds it to exchange/routingKey when exchange is non-empty.
func (m *Memory) DeclareQueue(name string, _, exclusive, _ bool, exchange string, routingKey []string, _ map[string]interface{}) (Inlet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if q, ok := m.queues[name]; ok {
		if exclusive || q.exclusive {
			return nil, errors.Errorf("queue %q already declared exclusively", name)
		}
	} else {
		m.queues[name] = newMemQueue(name, exclusive)
	}
	q := m.queues[name]

	if exchange != "" {
		if len(routingKey) == 0 {
			routingKey = []string{""}
		}
		for _, rk := range routingKey {
			m.bindings[exchange] = append(m.bindings[exchange], binding{queue: name, routingKey: rk})
		}
	}
	return q, nil
}

// Reply delivers directly to the queue named by replyTo's routing key, the
// same way the default exchange routes a message straight to a queue of
// the same name.
func (m *Memory) Reply(replyTo address.ServiceAddress, correlationID string, headers map[string][]byte, body []byte) error {
	m.mu.Lock()
	q, ok := m.queues[replyTo.RoutingKey]
	m.mu.Unlock()
	if !ok {
		return errors.Errorf("unknown reply queue %q", replyTo.RoutingKey)
	}
	q.deliver(envelope.InboundMessage{ID: correlationID, Headers: headers, Body: body})
	return nil
}

// Publish routes a message through the named exchange to every bound
// queue matching routingKey (fanout exchanges ignore the key entirely;
// others require an exact or "#"/"*" wildcard match on "."-segments, and
// a queue bound with an empty key receives every routing key).
func (m *Memory) Publish(exchange, routingKey string, msg envelope.InboundMessage) {
	m.mu.Lock()
	kind := m.exchanges[exchange]
	targets := append([]binding(nil), m.bindings[exchange]...)
	m.mu.Unlock()

	for _, b := range targets {
		if kind != "fanout" && !matches(b.routingKey, routingKey) {
			continue
		}
		m.mu.Lock()
		q := m.queues[b.queue]
		m.mu.Unlock()
		if q != nil {
			q.deliver(msg)
		}
	}
}

func matches(pattern, key string) bool {
	if pattern == key || pattern == "" || pattern == "#" {
		return true
	}
	if !strings.ContainsAny(pattern, "#*") {
		return pattern == key
	}
	pSegs := strings.Split(pattern, ".")
	kSegs := strings.Split(key, ".")
	var pi, ki int
	for pi < len(pSegs) && ki < len(kSegs) {
		switch pSegs[pi] {
		case "#":
			if pi == len(pSegs)-1 {
				return true
			}
			for ki <= len(kSegs) {
				if matches(strings.Join(pSegs[pi+1:], "."), strings.Join(kSegs[ki:], ".")) {
					return true
				}
				ki++
			}
			return false
		case "*":
			pi++
			ki++
		default:
			if pSegs[pi] != kSegs[ki] {
				return false
			}
			pi++
			ki++
		}
	}
	return pi == len(pSegs) && ki == len(kSegs)
}

// memQueue is the in-process Inlet implementation backing Memory.
type memQueue struct {
	name      string
	exclusive bool
	ch        chan envelope.InboundMessage
	stream    chan StreamItem
	disposed  bool
	mu        sync.Mutex
	ctx       context.Context
	halt      context.CancelFunc
}

func newMemQueue(name string, exclusive bool) *memQueue {
	ctx, halt := context.WithCancel(context.Background())
	return &memQueue{
		name:      name,
		exclusive: exclusive,
		ch:        make(chan envelope.InboundMessage, 64),
		ctx:       ctx,
		halt:      halt,
	}
}

func (q *memQueue) deliver(msg envelope.InboundMessage) {
	select {
	case q.ch <- msg:
	case <-q.ctx.Done():
	}
}

func (q *memQueue) Bind(_ string, _ ...string) error {
	return nil
}

func (q *memQueue) Receive(ctx context.Context) (envelope.InboundMessage, error) {
	select {
	case msg := <-q.ch:
		return msg, nil
	case <-q.ctx.Done():
		return envelope.InboundMessage{}, Cancelled
	case <-ctx.Done():
		return envelope.InboundMessage{}, Cancelled
	}
}

func (q *memQueue) ReceiveTimeout(d time.Duration) (envelope.InboundMessage, error) {
	select {
	case msg := <-q.ch:
		return msg, nil
	case <-q.ctx.Done():
		return envelope.InboundMessage{}, Cancelled
	case <-time.After(d):
		return envelope.InboundMessage{}, Timeout
	}
}

func (q *memQueue) AsStream() <-chan StreamItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stream == nil {
		q.stream = make(chan StreamItem)
		go func() {
			defer close(q.stream)
			for {
				select {
				case <-q.ctx.Done():
					return
				case msg := <-q.ch:
					select {
					case q.stream <- StreamItem{Message: msg}:
					case <-q.ctx.Done():
						return
					}
				}
			}
		}()
	}
	return q.stream
}

func (q *memQueue) Dispose() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.disposed {
		return nil
	}
	q.disposed = true
	q.halt()
	return nil
}
