package serializer

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"go.holon.dev/runtime/errors"
)

type protobufCodec[T any] struct{}

// Protobuf returns a Codec that encodes dynamic values through
// google.golang.org/protobuf's structpb.Value, registered under the name
// "protobuf". It is used to carry the core's dynamic RPC argument/response
// and event values without requiring generated .proto message types.
func Protobuf[T any]() Codec[T] {
	return protobufCodec[T]{}
}

func (protobufCodec[T]) Name() string { return "protobuf" }

func (protobufCodec[T]) Marshal(v T) ([]byte, error) {
	pv, err := structpb.NewValue(v)
	if err != nil {
		return nil, errors.Wrap(err, "protobuf: encode value")
	}
	return proto.Marshal(pv)
}

func (protobufCodec[T]) Unmarshal(data []byte, v *T) error {
	var pv structpb.Value
	if err := proto.Unmarshal(data, &pv); err != nil {
		return errors.Wrap(err, "protobuf: decode frame")
	}
	decoded := pv.AsInterface()
	typed, ok := decoded.(T)
	if !ok {
		return errors.Errorf("protobuf: decoded value of type %T is not assignable to target", decoded)
	}
	*v = typed
	return nil
}
