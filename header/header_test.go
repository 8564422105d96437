package header_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.holon.dev/runtime/header"
)

func TestRPCRoundTrip(t *testing.T) {
	h := header.NewRPC("json", header.Single)
	parsed, err := header.ParseRPC(h.Bytes())
	assert.NoError(t, err)
	assert.Equal(t, h, parsed)
}

func TestRPCUnsupportedVersion(t *testing.T) {
	_, err := header.ParseRPC([]byte("2.0 json Single"))
	assert.ErrorIs(t, err, header.ErrUnsupportedVersion)
}

func TestRPCMalformed(t *testing.T) {
	_, err := header.ParseRPC([]byte("json Single"))
	assert.ErrorIs(t, err, header.ErrMalformedHeader)
}

func TestEventRoundTrip(t *testing.T) {
	h := header.NewEvent("proto")
	parsed, err := header.ParseEvent(h.Bytes())
	assert.NoError(t, err)
	assert.Equal(t, h, parsed)
}

func TestEventUnsupportedVersion(t *testing.T) {
	_, err := header.ParseEvent([]byte("1.0 proto"))
	assert.ErrorIs(t, err, header.ErrUnsupportedVersion)
}
