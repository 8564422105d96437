package serializer

import "encoding/json"

type jsonCodec[T any] struct{}

// JSON returns a Codec backed by the standard library's encoding/json
// package, registered under the name "json".
func JSON[T any]() Codec[T] {
	return jsonCodec[T]{}
}

func (jsonCodec[T]) Name() string { return "json" }

func (jsonCodec[T]) Marshal(v T) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec[T]) Unmarshal(data []byte, v *T) error {
	return json.Unmarshal(data, v)
}
