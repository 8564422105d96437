/*
Package rpc implements the reflective RPC behaviour: a dispatcher that
binds named interface contracts to handler objects, parses versioned RPC
envelopes, routes single-call requests to the correct operation, and
replies over the envelope's originating node. Every Behaviour auto-binds
the IInterfaceQuery001 introspection contract.
*/
package rpc

import (
	"fmt"
)

// Well-known error codes a Response may carry. User handlers may also
// return arbitrary, application-defined codes via Exception.
const (
	CodeNotFound       = "NotFound"
	CodeBadRequest     = "BadRequest"
	CodeException      = "Exception"
	CodeNotImplemented = "NotImplemented"
)

// Exception is the error type handler code raises to produce a structured
// RPC error response instead of the generic "Exception" fallback.
type Exception struct {
	Code    string
	Message string
}

// NewException builds an Exception carrying the given error code and
// message.
func NewException(code, message string) *Exception {
	return &Exception{Code: code, Message: message}
}

func (e *Exception) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Request is a single-call RPC request: the bound interface and operation
// name, and the named arguments to invoke it with.
type Request struct {
	Interface string
	Operation string
	Arguments map[string]interface{}
}

// Response is either a successful result (OK set, ErrorCode empty) or a
// structured failure (ErrorCode/ErrorMessage set).
type Response struct {
	OK           interface{}
	ErrorCode    string
	ErrorMessage string
}

// IsError reports whether the response carries a structured failure.
func (r Response) IsError() bool {
	return r.ErrorCode != ""
}

func errorResponse(code, message string) Response {
	return Response{ErrorCode: code, ErrorMessage: message}
}

// ArgumentSpec declares one named parameter of a bound operation: its
// name, a human-readable declared type, whether it may be omitted from
// the request, and the default value substituted when it is.
type ArgumentSpec struct {
	Name     string
	Type     string
	Optional bool
	Default  interface{}
}

// OperationSpec is the frozen descriptor for one bound method or property
// getter, computed once when a Binding is built.
type OperationSpec struct {
	Name               string
	Arguments          []ArgumentSpec
	ReturnType         string
	NoReply            bool
	AllowIntrospection bool
	IsProperty         bool
}

// Described is implemented by any handler object bound to a Behaviour. Go
// does not expose parameter names or default values through reflection,
// so handlers declare their own operation table rather than having it
// inferred from the method set alone.
type Described interface {
	Operations() []OperationSpec
}

func errNotOptional(name string) error {
	return NewException(CodeBadRequest, fmt.Sprintf("The argument %s is not optional", name))
}

// errInvalidArgumentType is raised when an argument is present but its
// value cannot be coerced to the operation's declared parameter type —
// distinct from errNotOptional, which is for an argument missing entirely.
func errInvalidArgumentType(name string) error {
	return NewException(CodeBadRequest, fmt.Sprintf("The argument %s has an invalid type", name))
}
