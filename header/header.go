/*
Package header parses and renders the two versioned ASCII header lines the
core relies on: the RPC header (key "X-RPC") and the event header (key
"X-Event"). Both are carried as a single line of bytes in the envelope's
header map.
*/
package header

import (
	"fmt"
	"strings"

	"go.holon.dev/runtime/errors"
)

// Well-known header keys.
const (
	RPCKey   = "X-RPC"
	EventKey = "X-Event"
)

// SupportedVersion is the only RPC/event header version this core
// understands. Any other value fails with ErrUnsupportedVersion.
const SupportedVersion = "1.1"

// MessageType enumerates the RPC message kinds carried in the RPC header.
// Single is the only kind implemented; batched RPC is explicitly
// unsupported.
type MessageType string

// Batched is a named value so the rejection can be reported precisely:
// ParseRPC accepts it, and rpc.Behaviour.Handle returns an error for any
// message type other than Single.
const (
	Single  MessageType = "Single"
	Batched MessageType = "Batched"
)

// Sentinel errors surfaced by Parse.
var (
	ErrMissingHeader     = errors.New("missing header")
	ErrMalformedHeader   = errors.New("malformed header")
	ErrUnsupportedVersion = errors.New("unsupported header version")
)

// RPC is the decoded form of an "X-RPC" header value:
// "<version> <serializer> <type>".
type RPC struct {
	Version    string
	Serializer string
	Type       MessageType
}

// ParseRPC decodes a raw "X-RPC" header value.
func ParseRPC(raw []byte) (RPC, error) {
	fields := strings.Fields(string(raw))
	if len(fields) != 3 {
		return RPC{}, errors.Wrap(ErrMalformedHeader, fmt.Sprintf("X-RPC: %q", raw))
	}
	h := RPC{Version: fields[0], Serializer: fields[1], Type: MessageType(fields[2])}
	if h.Version != SupportedVersion {
		return h, errors.Wrap(ErrUnsupportedVersion, fmt.Sprintf("X-RPC version %q", h.Version))
	}
	return h, nil
}

// Bytes renders the RPC header back to its wire form.
func (h RPC) Bytes() []byte {
	return []byte(fmt.Sprintf("%s %s %s", h.Version, h.Serializer, h.Type))
}

// NewRPC builds a header for the current supported version.
func NewRPC(serializer string, kind MessageType) RPC {
	return RPC{Version: SupportedVersion, Serializer: serializer, Type: kind}
}

// Event is the decoded form of an "X-Event" header value:
// "<version> <serializer>".
type Event struct {
	Version    string
	Serializer string
}

// ParseEvent decodes a raw "X-Event" header value.
func ParseEvent(raw []byte) (Event, error) {
	fields := strings.Fields(string(raw))
	if len(fields) != 2 {
		return Event{}, errors.Wrap(ErrMalformedHeader, fmt.Sprintf("X-Event: %q", raw))
	}
	h := Event{Version: fields[0], Serializer: fields[1]}
	if h.Version != SupportedVersion {
		return h, errors.Wrap(ErrUnsupportedVersion, fmt.Sprintf("X-Event version %q", h.Version))
	}
	return h, nil
}

// Bytes renders the event header back to its wire form.
func (h Event) Bytes() []byte {
	return []byte(fmt.Sprintf("%s %s", h.Version, h.Serializer))
}

// NewEvent builds a header for the current supported version.
func NewEvent(serializer string) Event {
	return Event{Version: SupportedVersion, Serializer: serializer}
}
