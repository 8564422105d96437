package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	driver "github.com/rabbitmq/amqp091-go"
	"go.holon.dev/runtime/errors"
	xlog "go.holon.dev/runtime/log"
)

// MessageOptions allow a publisher to adjust the expected behavior when
// dispatching a message to the broker.
type MessageOptions struct {
	// Name of the exchange to publish the message to. An empty string
	// represents the default exchange.
	Exchange string

	// Routing key used by the exchange to route the message.
	RoutingKey string

	// Per-message time-to-live, in seconds. Zero means no TTL.
	TTL int

	// Mandatory messages are returned by the broker if no queue is bound
	// that matches the routing key.
	Mandatory bool

	// Immediate messages are returned by the broker if no consumer on the
	// matched queue is ready to accept the delivery.
	Immediate bool

	// Persistent messages survive broker restarts if published to durable
	// queues.
	Persistent bool

	// Message priority, between 0 (default) and 9.
	Priority uint8
}

// Message sent to the server.
type Message = driver.Publishing

// Publisher instances send messages to a broker for asynchronous
// consumption, and serve as the transport for RPC replies and requests.
type Publisher struct {
	log     xlog.Logger
	session *session
	ready   chan bool
	pause   chan bool
	status  bool
	wg      *sync.WaitGroup
	mu      sync.Mutex
	ctx     context.Context
	halt    context.CancelFunc
}

// NewPublisher returns a handler that sends messages to a broker server,
// monitoring its connection and handling reconnects as needed.
func NewPublisher(addr string, options ...Option) (*Publisher, error) {
	s, err := open(addr, options...)
	if err != nil {
		return nil, err
	}

	ctx, halt := context.WithCancel(context.Background())
	p := &Publisher{
		session: s,
		ready:   make(chan bool, 1),
		pause:   make(chan bool, 1),
		halt:    halt,
		ctx:     ctx,
		log:     s.log,
		wg:      &sync.WaitGroup{},
	}
	go p.eventLoop()
	return p, nil
}

// AddExchange declares a new exchange with the broker, or verifies an
// existing one matches the provided kind, durability and auto-delete
// flags.
func (p *Publisher) AddExchange(ex Exchange) error {
	if !p.session.isReady() {
		return errors.New(errNotConnected)
	}
	return p.session.addExchange(ex, p.session.channel)
}

// Ready notifies a user when the publisher instance becomes usable.
func (p *Publisher) Ready() <-chan bool {
	return p.ready
}

// Pause notifies a user when the publisher instance becomes unavailable.
func (p *Publisher) Pause() <-chan bool {
	return p.pause
}

// Close waits for in-flight publish operations and gracefully terminates
// the connection to the broker.
func (p *Publisher) Close() error {
	p.log.Debug("closing publisher")
	p.halt()
	<-p.ctx.Done()
	p.wg.Wait()
	return p.session.close()
}

// MessageReturns notifies a user when a message is returned by the broker.
func (p *Publisher) MessageReturns() <-chan Return {
	return p.session.messageReturns()
}

// UnsafePush publishes the message without waiting for confirmation. No
// guarantee is made that the server received the message.
func (p *Publisher) UnsafePush(msg Message, opts MessageOptions) error {
	if !p.session.isReady() {
		return errors.New(errNotConnected)
	}

	if opts.Persistent {
		msg.DeliveryMode = driver.Persistent
	}
	if ttl := opts.TTL; ttl != 0 {
		if ttl < 0 {
			ttl = 0
		}
		msg.Expiration = fmt.Sprintf("%d", ttl*1000)
	}
	if opts.Priority <= 9 {
		msg.Priority = opts.Priority
	}

	p.log.Debug("publishing message")
	return p.session.channel.Publish(opts.Exchange, opts.RoutingKey, opts.Mandatory, opts.Immediate, msg)
}

// Push publishes the message and waits for confirmation, re-sending on
// every "resendDelay" until one is received. Errors are only returned for
// connection issues.
func (p *Publisher) Push(msg Message, opts MessageOptions) (bool, error) {
	if !p.session.isReady() {
		return false, errors.New(errNotConnected)
	}

	p.wg.Add(1)
	defer p.wg.Done()

	for {
		if err := p.UnsafePush(msg, opts); err != nil {
			p.log.WithField("error", err.Error()).Warning("push failed")
			select {
			case <-p.session.ctx.Done():
				return false, errors.New(errShutdown)
			case <-p.ctx.Done():
				return false, errors.New(errShutdown)
			case <-time.After(resendDelay):
				p.log.Warning("retrying to push message")
				continue
			}
		}

		select {
		case status, ok := <-p.session.ack():
			if ok {
				p.log.WithField("status", status).Debug("push confirmed")
				return status, nil
			}
		case <-p.session.ctx.Done():
			return false, errors.New(errShutdown)
		case <-p.ctx.Done():
			return false, errors.New(errShutdown)
		case <-time.After(resendDelay):
			p.log.Warning(errUnconfirmedPush)
			continue
		}
	}
}

// GetDispatcher returns a preconfigured interface that simplifies
// publishing several messages under a shared base configuration.
func (p *Publisher) GetDispatcher(ctx context.Context, safe bool, opts MessageOptions) *Dispatcher {
	dp := &Dispatcher{
		ctx:    ctx,
		safe:   safe,
		opts:   opts,
		name:   getName(p.session.name),
		done:   make(chan struct{}),
		msgCh:  make(chan Message),
		errCh:  make(chan error),
		parent: p,
	}
	go dp.eventLoop()
	return dp
}

// Reply publishes a response routed to replyTo via the default exchange,
// echoing correlationID and attaching the given headers.
func (p *Publisher) Reply(replyTo string, correlationID string, headers driver.Table, body []byte) error {
	msg := Message{
		CorrelationId: correlationID,
		Headers:       headers,
		Body:          body,
	}
	status, err := p.Push(msg, MessageOptions{RoutingKey: replyTo})
	if err != nil {
		return err
	}
	if !status {
		return errors.New("failed to publish reply")
	}
	return nil
}

// RequestRPC publishes msg as an RPC request on exchange/routingKey,
// setting ReplyTo to the given sink queue and generating a MessageId if
// one isn't already set. The returned id is used to correlate the
// eventual response.
func (p *Publisher) RequestRPC(exchange, routingKey, sink string, msg Message) (id string, err error) {
	msg.ReplyTo = sink
	if msg.MessageId == "" {
		msg.MessageId = uuid.New().String()
	}
	status, err := p.Push(msg, MessageOptions{Exchange: exchange, RoutingKey: routingKey})
	if err != nil {
		return "", err
	}
	if !status {
		return "", errors.New("failed to submit RPC request")
	}
	return msg.MessageId, nil
}

func (p *Publisher) eventLoop() {
	defer p.log.Debug("closing publisher event processing")
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.session.ctx.Done():
			return
		case status, ok := <-p.session.status:
			if !ok {
				return
			}
			p.mu.Lock()
			if status == p.status {
				p.mu.Unlock()
				continue
			}
			p.status = status
			p.mu.Unlock()
			go func(status bool) {
				select {
				case <-p.ctx.Done():
					return
				case <-time.After(ackDelay):
					return
				default:
					if status {
						p.ready <- true
					} else {
						p.pause <- true
					}
				}
			}(status)
		}
	}
}
