package serializer

// Value is the dynamic shape RPC arguments and response payloads are
// carried in. Registries used for RPC are instantiated as
// `Registry[Value]`.
type Value = map[string]interface{}
