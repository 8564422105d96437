package serializer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.holon.dev/runtime/serializer"
)

func rpcRegistry() *serializer.Registry[serializer.Value] {
	return serializer.NewRegistry[serializer.Value](
		serializer.JSON[serializer.Value](),
		serializer.Protobuf[serializer.Value](),
		serializer.YAML[serializer.Value](),
	)
}

func TestRegistryRoundTrip(t *testing.T) {
	reg := rpcRegistry()
	for _, name := range []string{"json", "protobuf", "yaml"} {
		codec, err := reg.Get(name)
		assert.NoError(t, err, name)

		in := serializer.Value{"ok": float64(5)}
		data, err := codec.Marshal(in)
		assert.NoError(t, err, name)

		var out serializer.Value
		assert.NoError(t, codec.Unmarshal(data, &out), name)
		assert.Equal(t, in, out, name)
	}
}

func TestRegistryUnknown(t *testing.T) {
	reg := rpcRegistry()
	_, err := reg.Get("msgpack")
	assert.ErrorIs(t, err, serializer.ErrUnknown)
}

func TestRegistryNames(t *testing.T) {
	reg := rpcRegistry()
	assert.ElementsMatch(t, []string{"json", "protobuf", "yaml"}, reg.Names())
}
