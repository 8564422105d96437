package serializer

import "gopkg.in/yaml.v3"

type yamlCodec[T any] struct{}

// YAML returns a Codec backed by gopkg.in/yaml.v3, registered under the
// name "yaml".
func YAML[T any]() Codec[T] {
	return yamlCodec[T]{}
}

func (yamlCodec[T]) Name() string { return "yaml" }

func (yamlCodec[T]) Marshal(v T) ([]byte, error) {
	return yaml.Marshal(v)
}

func (yamlCodec[T]) Unmarshal(data []byte, v *T) error {
	return yaml.Unmarshal(data, v)
}
