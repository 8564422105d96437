/*
Package address provides the addressing scheme used to locate services and
events on the broker: a namespace (mapped to a topic exchange) and a routing
key (mapped to a binding pattern).
*/
package address

import (
	"strings"

	"go.holon.dev/runtime/errors"
)

// separator joins the namespace and routing key segments of an address
// when rendered to its string form, and is the delimiter expected when
// parsing one back.
const separator = ":"

// ServiceAddress identifies a service's exchange (namespace) and the
// routing key used to bind its queue. The string form is used verbatim as
// the broker queue name for Singleton and Balanced services.
type ServiceAddress struct {
	Namespace  string
	RoutingKey string
}

// NewServiceAddress builds an address from its parts.
func NewServiceAddress(namespace, routingKey string) ServiceAddress {
	return ServiceAddress{Namespace: namespace, RoutingKey: routingKey}
}

// ParseServiceAddress decodes a "namespace:routing-key" string.
func ParseServiceAddress(value string) (ServiceAddress, error) {
	ns, rk, err := split(value)
	if err != nil {
		return ServiceAddress{}, err
	}
	return ServiceAddress{Namespace: ns, RoutingKey: rk}, nil
}

// String renders the address in its canonical "namespace:routing-key" form.
func (a ServiceAddress) String() string {
	return a.Namespace + separator + a.RoutingKey
}

// IsZero reports whether the address carries no namespace or routing key.
func (a ServiceAddress) IsZero() bool {
	return a.Namespace == "" && a.RoutingKey == ""
}

// EventAddress identifies a topic filter on an event exchange. It shares
// the exact shape of ServiceAddress but is kept as a distinct type so event
// and service addresses are never confused at compile time.
type EventAddress struct {
	Namespace  string
	RoutingKey string
}

// NewEventAddress builds an event address from its parts.
func NewEventAddress(namespace, routingKey string) EventAddress {
	return EventAddress{Namespace: namespace, RoutingKey: routingKey}
}

// ParseEventAddress decodes a "namespace:routing-key" string.
func ParseEventAddress(value string) (EventAddress, error) {
	ns, rk, err := split(value)
	if err != nil {
		return EventAddress{}, err
	}
	return EventAddress{Namespace: ns, RoutingKey: rk}, nil
}

// String renders the address in its canonical "namespace:routing-key" form.
func (a EventAddress) String() string {
	return a.Namespace + separator + a.RoutingKey
}

func split(value string) (namespace string, routingKey string, err error) {
	i := strings.Index(value, separator)
	if i < 0 {
		return "", "", errors.Errorf("invalid address %q: missing %q separator", value, separator)
	}
	namespace = value[:i]
	routingKey = value[i+1:]
	if namespace == "" {
		return "", "", errors.Errorf("invalid address %q: empty namespace", value)
	}
	return namespace, routingKey, nil
}
