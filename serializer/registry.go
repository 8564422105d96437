/*
Package serializer provides the process-wide, name-keyed codec registry the
core relies on to turn RPC arguments/responses and event bodies into bytes
and back. The registry mechanism is generic; RPC and events each get their
own independent instance.
*/
package serializer

import (
	"sync"

	"go.holon.dev/runtime/errors"
)

// ErrUnknown is returned by Registry.Get when no codec is registered under
// the requested name.
var ErrUnknown = errors.New("unknown serializer")

// Codec turns a value into bytes and back. T is the value shape a given
// registry works with; the rpc and event packages both use Value
// (`map[string]interface{}`) for RPC arguments/responses and event bodies.
type Codec[T any] interface {
	// Name is the identifier a codec is registered and looked up under.
	Name() string

	// Marshal encodes a value into its wire representation.
	Marshal(v T) ([]byte, error)

	// Unmarshal decodes a wire representation into a value.
	Unmarshal(data []byte, v *T) error
}

// Registry is a thread-safe name -> Codec map. It is populated once at
// startup and only read by the core afterwards.
type Registry[T any] struct {
	mu     sync.RWMutex
	codecs map[string]Codec[T]
}

// NewRegistry returns an empty registry, optionally pre-populated with the
// given codecs.
func NewRegistry[T any](codecs ...Codec[T]) *Registry[T] {
	r := &Registry[T]{codecs: make(map[string]Codec[T], len(codecs))}
	for _, c := range codecs {
		r.Register(c)
	}
	return r
}

// Register adds or replaces a codec under its declared name.
func (r *Registry[T]) Register(c Codec[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[c.Name()] = c
}

// Get looks up a codec by name.
func (r *Registry[T]) Get(name string) (Codec[T], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknown, "serializer %q", name)
	}
	return c, nil
}

// Names returns the currently registered codec names.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.codecs))
	for n := range r.codecs {
		names = append(names, n)
	}
	return names
}
