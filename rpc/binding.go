package rpc

import (
	"reflect"
	"sort"
	"strings"
	"sync"

	"go.holon.dev/runtime/errors"
)

// InterfaceInfo is the introspection descriptor for one bound interface:
// its name and the operations exposed to introspection.
type InterfaceInfo struct {
	Name       string
	Operations []OperationSpec
}

type invoker func(args map[string]interface{}) (interface{}, error)

type boundOperation struct {
	spec   OperationSpec
	invoke invoker
}

// Binding associates one interface name with a handler object and the
// operation table built from it. The table is computed once, at Bind
// time, via one method lookup per declared operation; later dispatch
// looks up the precomputed invoker and never looks the method up again,
// though the invoker still converts each argument value by reflection.
type Binding struct {
	name               string
	allowIntrospection bool
	ops                map[string]boundOperation

	once   sync.Once
	descr  InterfaceInfo
}

// NewBinding builds a Binding for handler under name, failing if handler
// does not implement Described or if any declared operation does not
// correspond to an exported method on handler with a matching arity.
func NewBinding(name string, handler interface{}, allowIntrospection bool) (*Binding, error) {
	described, ok := handler.(Described)
	if !ok {
		return nil, errors.Errorf("rpc: handler for interface %q does not implement Described", name)
	}

	ops := make(map[string]boundOperation)
	for _, spec := range described.Operations() {
		invoke, err := buildInvoker(handler, spec)
		if err != nil {
			return nil, errors.Wrapf(err, "rpc: binding interface %q", name)
		}
		key := strings.ToLower(spec.Name)
		if _, exists := ops[key]; exists {
			return nil, errors.Errorf("rpc: interface %q declares operation %q twice", name, spec.Name)
		}
		ops[key] = boundOperation{spec: spec, invoke: invoke}
	}

	return &Binding{name: name, allowIntrospection: allowIntrospection, ops: ops}, nil
}

// describe returns (and memoizes) the introspection descriptor for the
// operations on this binding flagged AllowIntrospection.
func (b *Binding) describe() InterfaceInfo {
	b.once.Do(func() {
		var specs []OperationSpec
		for _, op := range b.ops {
			if op.spec.AllowIntrospection {
				specs = append(specs, op.spec)
			}
		}
		sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
		b.descr = InterfaceInfo{Name: b.name, Operations: specs}
	})
	return b.descr
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// buildInvoker reflects over handler's method named spec.Name once,
// validates its arity against spec.Arguments, and returns a closure that
// converts a decoded argument map into reflected call parameters on every
// invocation, never re-inspecting the method itself.
func buildInvoker(handler interface{}, spec OperationSpec) (invoker, error) {
	hv := reflect.ValueOf(handler)
	method := hv.MethodByName(spec.Name)
	if !method.IsValid() {
		return nil, errors.Errorf("no exported method %q on handler", spec.Name)
	}
	mt := method.Type()

	if spec.IsProperty {
		if mt.NumIn() != 0 {
			return nil, errors.Errorf("property getter %q must take no arguments", spec.Name)
		}
		return func(args map[string]interface{}) (interface{}, error) {
			if _, writing := args["Property"]; writing {
				return nil, NewException(CodeNotImplemented, "property write is not supported")
			}
			return splitResults(method.Call(nil))
		}, nil
	}

	if mt.NumIn() != len(spec.Arguments) {
		return nil, errors.Errorf("method %q takes %d arguments, operation declares %d", spec.Name, mt.NumIn(), len(spec.Arguments))
	}

	args := spec.Arguments
	return func(argv map[string]interface{}) (interface{}, error) {
		in := make([]reflect.Value, len(args))
		for i, a := range args {
			raw, present := argv[a.Name]
			if !present {
				if !a.Optional {
					return nil, errNotOptional(a.Name)
				}
				raw = a.Default
			}
			v, err := coerce(raw, mt.In(i))
			if err != nil {
				return nil, errInvalidArgumentType(a.Name)
			}
			in[i] = v
		}
		return splitResults(method.Call(in))
	}, nil
}

// splitResults normalizes a reflected method's return values into the
// (value, error) shape every invoker produces: zero returns means no
// value, one error-typed return is an error-only method, one non-error
// return is a bare value, and two returns are (value, error).
func splitResults(out []reflect.Value) (interface{}, error) {
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if out[0].Type() == errorType {
			if out[0].IsNil() {
				return nil, nil
			}
			return nil, out[0].Interface().(error)
		}
		return out[0].Interface(), nil
	default:
		last := out[len(out)-1]
		if last.Type() == errorType && !last.IsNil() {
			return nil, last.Interface().(error)
		}
		return out[0].Interface(), nil
	}
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// coerce adapts a decoded argument value (typically a float64, string,
// bool, map, or slice produced by a serializer codec) to the reflected
// type a bound method declares, converting between numeric kinds (JSON
// decodes numbers as float64, YAML decodes integers as int).
func coerce(raw interface{}, t reflect.Type) (reflect.Value, error) {
	if raw == nil {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(raw)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}
	if rv.Type().ConvertibleTo(t) && isNumericKind(rv.Kind()) && isNumericKind(t.Kind()) {
		return rv.Convert(t), nil
	}
	return reflect.Value{}, errors.Errorf("cannot assign %T to %s", raw, t)
}
