package rpc

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.holon.dev/runtime/envelope"
	"go.holon.dev/runtime/errors"
	"go.holon.dev/runtime/header"
	"go.holon.dev/runtime/serializer"
)

// Behaviour is the stateful dispatcher from interface/operation name to
// bound handler. It satisfies service.Behaviour, so it can be handed
// straight to service.New as the receive loop's target. Every Behaviour
// auto-binds the built-in IInterfaceQuery001 introspection contract.
type Behaviour struct {
	registry *serializer.Registry[serializer.Value]

	mu       sync.RWMutex
	bindings map[string]*Binding
}

// NewBehaviour builds a Behaviour dispatching over the given RPC
// serializer registry, with IInterfaceQuery001 already bound.
func NewBehaviour(registry *serializer.Registry[serializer.Value]) *Behaviour {
	b := &Behaviour{registry: registry, bindings: make(map[string]*Binding)}
	introspect := &introspectionContract{behaviour: b}
	binding, err := NewBinding("IInterfaceQuery001", introspect, true)
	if err != nil {
		// The introspection contract is defined by this package; a failure
		// here means the contract itself is broken, not user input.
		panic(err)
	}
	b.bindings[strings.ToLower(binding.name)] = binding
	return b
}

// Bind associates an interface name with a handler object. Interface
// names are unique within a Behaviour, case-insensitively.
func (b *Behaviour) Bind(name string, handler interface{}, allowIntrospection bool) error {
	binding, err := NewBinding(name, handler, allowIntrospection)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	key := strings.ToLower(name)
	if _, exists := b.bindings[key]; exists {
		return errors.Errorf("rpc: interface %q is already bound", name)
	}
	b.bindings[key] = binding
	return nil
}

// Registration is one entry passed to BindMany.
type Registration struct {
	Name               string
	Handler            interface{}
	AllowIntrospection bool
}

// BindMany binds every registration, stopping at (and returning) the
// first error. Bindings made before the failing entry are retained.
func (b *Behaviour) BindMany(regs ...Registration) error {
	for _, r := range regs {
		if err := b.Bind(r.Name, r.Handler, r.AllowIntrospection); err != nil {
			return err
		}
	}
	return nil
}

func (b *Behaviour) resolve(interfaceName, operation string) (*boundOperation, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bind, ok := b.bindings[strings.ToLower(interfaceName)]
	if !ok {
		return nil, false
	}
	op, ok := bind.ops[strings.ToLower(operation)]
	if !ok {
		return nil, false
	}
	return &op, true
}

// Handle implements service.Behaviour. Pre-parse protocol failures
// (missing id, missing/malformed/unversioned header, batched requests,
// unknown serializer) are returned as errors for the caller's unhandled-
// exception path; everything resolved past that point — including an
// unknown interface/operation or a missing required argument — is
// answered with a reply, never raised, except that operations flagged
// NoReply get no reply.
func (b *Behaviour) Handle(ctx context.Context, e envelope.Envelope) error {
	if e.ID == "" {
		return errors.New("rpc: invalid request: no reply identifier")
	}

	raw, ok := e.Header(header.RPCKey)
	if !ok {
		return errors.New("rpc: invalid request: missing RPC header")
	}
	h, err := header.ParseRPC(raw)
	if err != nil {
		return errors.Wrap(err, "rpc: invalid request")
	}
	if h.Type != header.Single {
		return errors.Errorf("rpc: unsupported message type %q: batched RPC is not implemented", h.Type)
	}

	codec, err := b.registry.Get(h.Serializer)
	if err != nil {
		return errors.Wrapf(err, "rpc: unsupported serializer %q", h.Serializer)
	}

	resp, noReply := b.dispatch(ctx, codec)(e.Body)
	if noReply {
		return nil
	}

	body, err := codec.Marshal(valueFromResponse(resp))
	if err != nil {
		return errors.Wrap(err, "rpc: failed to marshal response")
	}
	replyHeader := header.NewRPC(h.Serializer, header.Single)
	return e.Reply(map[string][]byte{header.RPCKey: replyHeader.Bytes()}, body)
}

func (b *Behaviour) dispatch(_ context.Context, codec serializer.Codec[serializer.Value]) func([]byte) (Response, bool) {
	return func(body []byte) (Response, bool) {
		var v serializer.Value
		if err := codec.Unmarshal(body, &v); err != nil {
			return errorResponse(CodeBadRequest, fmt.Sprintf("The request format is invalid: %v", err)), false
		}
		req, err := requestFromValue(v)
		if err != nil {
			return errorResponse(CodeBadRequest, fmt.Sprintf("The request format is invalid: %v", err)), false
		}

		op, ok := b.resolve(req.Interface, req.Operation)
		if !ok {
			return errorResponse(CodeNotFound, "The interface or operation could not be found"), false
		}

		result, err := op.invoke(req.Arguments)
		if err != nil {
			var exc *Exception
			if errors.As(err, &exc) {
				return errorResponse(exc.Code, exc.Message), op.spec.NoReply
			}
			return errorResponse(CodeException, err.Error()), op.spec.NoReply
		}
		return Response{OK: result}, op.spec.NoReply
	}
}

func requestFromValue(v serializer.Value) (Request, error) {
	iface, _ := v["interface"].(string)
	op, _ := v["operation"].(string)
	if iface == "" || op == "" {
		return Request{}, errors.New("missing interface or operation")
	}
	args, _ := v["arguments"].(map[string]interface{})
	return Request{Interface: iface, Operation: op, Arguments: args}, nil
}

func valueFromResponse(r Response) serializer.Value {
	if r.IsError() {
		return serializer.Value{"error_code": r.ErrorCode, "error_message": r.ErrorMessage}
	}
	return serializer.Value{"ok": r.OK}
}
