/*
Package node ties a single broker connection to the set of services it
hosts: it owns the broker.Adapter, keeps a registry of live
service.Service instances keyed by address so a reconnect can resetup
every one of them, and exposes Reply for behaviours that hold only a
Node back-reference.
*/
package node

import (
	"sync"

	"go.holon.dev/runtime/address"
	"go.holon.dev/runtime/broker"
	"go.holon.dev/runtime/errors"
	xlog "go.holon.dev/runtime/log"
	"go.holon.dev/runtime/service"
)

// Node owns one broker connection and hosts every service declared
// against it, fanning out resetup to all of them when the connection is
// replaced.
type Node struct {
	name    string
	log     xlog.Logger
	adapter broker.Adapter

	mu       sync.Mutex
	services map[string]*service.Service
}

// New wraps an already-open broker.Adapter (typically a *broker.Node) as
// the Node's transport.
func New(name string, adapter broker.Adapter, options ...Option) *Node {
	n := &Node{name: name, adapter: adapter, log: xlog.Discard(), services: make(map[string]*service.Service)}
	for _, opt := range options {
		opt(n)
	}
	return n
}

// Option configures a Node at construction time.
type Option func(*Node)

// WithLogger attaches a logger for service lifecycle and resetup events.
func WithLogger(log xlog.Logger) Option {
	return func(n *Node) { n.log = log }
}

// Name returns the identifier the Node was constructed with.
func (n *Node) Name() string {
	return n.name
}

// Adapter exposes the underlying broker.Adapter for packages that build
// their own service.Service or event.Subscription directly (the rpc and
// event packages both take an Adapter, not a Node).
func (n *Node) Adapter() broker.Adapter {
	return n.adapter
}

// Host registers svc under addr and calls svc.Setup(). A service already
// hosted at addr fails the registration.
func (n *Node) Host(addr address.ServiceAddress, svc *service.Service) error {
	key := addr.String()

	n.mu.Lock()
	if _, exists := n.services[key]; exists {
		n.mu.Unlock()
		return errors.Errorf("node: a service is already hosted at %q", key)
	}
	n.services[key] = svc
	n.mu.Unlock()

	if err := svc.Setup(); err != nil {
		n.mu.Lock()
		delete(n.services, key)
		n.mu.Unlock()
		return err
	}
	return nil
}

// Unhost disposes and removes the service hosted at addr, if any.
func (n *Node) Unhost(addr address.ServiceAddress) error {
	key := addr.String()
	n.mu.Lock()
	svc, ok := n.services[key]
	if ok {
		delete(n.services, key)
	}
	n.mu.Unlock()
	if !ok {
		return nil
	}
	return svc.Dispose()
}

// Resetup points the Node at newAdapter and resetups every hosted
// service against it. The first error is returned, but resetup is
// attempted for every service regardless.
func (n *Node) Resetup(newAdapter broker.Adapter) error {
	n.mu.Lock()
	n.adapter = newAdapter
	services := make([]*service.Service, 0, len(n.services))
	for _, svc := range n.services {
		services = append(services, svc)
	}
	n.mu.Unlock()

	var first error
	for _, svc := range services {
		if err := svc.Resetup(newAdapter); err != nil {
			n.log.WithField("error", err.Error()).Warning("service resetup failed")
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Reply delegates to the underlying adapter, letting a Node itself stand
// in as an envelope.Replier for behaviours constructed without a direct
// broker.Adapter reference.
func (n *Node) Reply(replyTo address.ServiceAddress, correlationID string, headers map[string][]byte, body []byte) error {
	return n.adapter.Reply(replyTo, correlationID, headers, body)
}

// Close disposes every hosted service. The underlying broker.Adapter's
// own lifecycle (e.g. *broker.Node.Close) is the caller's responsibility.
func (n *Node) Close() error {
	n.mu.Lock()
	services := make([]*service.Service, 0, len(n.services))
	for k, svc := range n.services {
		services = append(services, svc)
		delete(n.services, k)
	}
	n.mu.Unlock()

	var first error
	for _, svc := range services {
		if err := svc.Dispose(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
