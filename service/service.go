/*
Package service implements the receive loop every named service runs:
declaring broker resources for a Singleton, Fanout, or Balanced address,
pulling envelopes from its queue under a Serial or Parallel execution
strategy, and surviving broker failover through resetup.
*/
package service

import (
	"context"
	"sync"

	"go.holon.dev/runtime/address"
	"go.holon.dev/runtime/broker"
	"go.holon.dev/runtime/envelope"
	"go.holon.dev/runtime/errors"
	xlog "go.holon.dev/runtime/log"
)

// Type selects the queue topology a service declares for its address.
type Type int

const (
	// Singleton declares a queue whose name equals the address string,
	// exclusive, so a second declaration on the same broker fails. Used
	// when only one node may serve the address.
	Singleton Type = iota

	// Fanout appends a random 40-hex-char suffix to the address so every
	// subscriber gets its own, non-exclusive queue; every broker delivery
	// is copied to every subscriber.
	Fanout

	// Balanced declares a shared, non-exclusive queue named after the
	// address, so the broker distributes messages across all consumers
	// (work-sharing).
	Balanced
)

// Execution selects how the receive loop dispatches to the behaviour.
type Execution int

const (
	// Serial awaits the behaviour's handler to completion before
	// receiving the next message.
	Serial Execution = iota

	// Parallel spawns the handler without awaiting it and immediately
	// loops to receive the next message.
	Parallel
)

// Behaviour is the capability a Service dispatches inbound envelopes to.
type Behaviour interface {
	Handle(ctx context.Context, e envelope.Envelope) error
}

// UnhandledExceptionFunc reports exceptions that escape behaviour dispatch
// and cannot be attributed to a specific, already-responded request.
type UnhandledExceptionFunc func(behaviour Behaviour, err error)

var (
	// ErrAlreadySetup is returned by Setup when called twice without an
	// intervening Dispose.
	ErrAlreadySetup = errors.New("service already setup")
)

// Service owns a queue, running the receive loop per its execution
// strategy and routing decoded envelopes to its behaviour.
type Service struct {
	Address   address.ServiceAddress
	Type      Type
	Execution Execution

	behaviour   Behaviour
	adapter     broker.Adapter
	onUnhandled UnhandledExceptionFunc
	queueArgs   map[string]interface{}
	log         xlog.Logger

	mu        sync.Mutex
	queue     broker.Inlet
	cancel    context.CancelFunc
	setupDone bool
	wg        sync.WaitGroup
}

// Option configures a Service at construction time.
type Option func(*Service)

// WithUnhandledException registers the callback invoked when a handler (or
// the receive loop itself) produces an error that cannot be reported back
// to a caller as a structured response.
func WithUnhandledException(fn UnhandledExceptionFunc) Option {
	return func(s *Service) { s.onUnhandled = fn }
}

// WithQueueArguments attaches additional broker queue arguments (TTL,
// max-length, dead-lettering, and the other knobs in
// broker.QueueOptions.AsArguments) to the declared queue.
func WithQueueArguments(args map[string]interface{}) Option {
	return func(s *Service) { s.queueArgs = args }
}

// WithLogger attaches a logger used to report receive-loop activity.
// Defaults to a discard logger.
func WithLogger(log xlog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// New constructs an inert Service. Call Setup to declare broker resources
// and start the receive loop.
func New(addr address.ServiceAddress, kind Type, execution Execution, behaviour Behaviour, adapter broker.Adapter, opts ...Option) *Service {
	s := &Service{
		Address:   addr,
		Type:      kind,
		Execution: execution,
		behaviour: behaviour,
		adapter:   adapter,
		log:       xlog.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Setup creates the topic exchange at Address.Namespace and, depending on
// Type, the appropriate queue, then starts the receive loop. Calling Setup
// twice without an intervening Dispose fails with ErrAlreadySetup.
func (s *Service) Setup() error {
	s.mu.Lock()
	if s.setupDone {
		s.mu.Unlock()
		return ErrAlreadySetup
	}
	s.setupDone = true
	s.mu.Unlock()

	if err := s.adapter.DeclareExchange(s.Address.Namespace, "topic", true, false); err != nil {
		s.markNotSetup()
		return err
	}

	queue, err := s.declareQueue()
	if err != nil {
		s.markNotSetup()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.queue = queue
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx, queue)
	return nil
}

func (s *Service) markNotSetup() {
	s.mu.Lock()
	s.setupDone = false
	s.mu.Unlock()
}

func (s *Service) declareQueue() (broker.Inlet, error) {
	switch s.Type {
	case Singleton:
		return s.adapter.DeclareQueue(s.Address.String(), true, true, false, s.Address.Namespace, []string{s.Address.RoutingKey}, s.queueArgs)
	case Fanout:
		name := s.Address.String() + "%" + broker.RandomSuffix(20)
		return s.adapter.DeclareQueue(name, false, false, false, s.Address.Namespace, []string{s.Address.RoutingKey}, s.queueArgs)
	case Balanced:
		return s.adapter.DeclareQueue(s.Address.String(), true, false, false, s.Address.Namespace, []string{s.Address.RoutingKey}, s.queueArgs)
	default:
		return nil, errors.Errorf("unknown service type %v", s.Type)
	}
}

// loop is the receive task: pull, wrap, dispatch, repeat until cancelled.
// queue is passed explicitly rather than read from s.queue on each
// iteration: Resetup reassigns (and nils) s.queue under s.mu while this
// loop's own cancellation is still in flight, and a shared-field read here
// would race that assignment and can observe nil after a failover.
func (s *Service) loop(ctx context.Context, queue broker.Inlet) {
	defer s.wg.Done()
	for {
		msg, err := queue.Receive(ctx)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, broker.Cancelled) {
				return
			}
			s.reportUnhandled(err)
			continue
		}

		e := envelope.New(msg, s.adapter)
		switch s.Execution {
		case Serial:
			s.dispatch(ctx, e)
		case Parallel:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.dispatch(ctx, e)
			}()
		}
	}
}

func (s *Service) dispatch(ctx context.Context, e envelope.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			s.reportUnhandled(errors.Errorf("panic in handler: %v", r))
		}
	}()
	if err := s.behaviour.Handle(ctx, e); err != nil {
		s.reportUnhandled(err)
	}
}

func (s *Service) reportUnhandled(err error) {
	s.log.WithField("error", err.Error()).Warning("unhandled service exception")
	if s.onUnhandled != nil {
		s.onUnhandled(s.behaviour, err)
	}
}

// Resetup cancels the current loop, clears the queue reference, points the
// service at newAdapter, and calls Setup again. The address and behaviour
// are preserved; the queue identity is not. In-flight Parallel handlers
// are allowed to finish independently.
func (s *Service) Resetup(newAdapter broker.Adapter) error {
	s.mu.Lock()
	cancel := s.cancel
	oldQueue := s.queue
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if oldQueue != nil {
		_ = oldQueue.Dispose()
	}

	s.mu.Lock()
	s.queue = nil
	s.adapter = newAdapter
	s.setupDone = false
	s.mu.Unlock()

	return s.Setup()
}

// Dispose cancels the loop and disposes the queue. Idempotent.
func (s *Service) Dispose() error {
	s.mu.Lock()
	if !s.setupDone {
		s.mu.Unlock()
		return nil
	}
	s.setupDone = false
	cancel := s.cancel
	queue := s.queue
	s.queue = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	if queue != nil {
		return queue.Dispose()
	}
	return nil
}
