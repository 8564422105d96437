package rpc

import (
	"sort"
	"strings"
)

// introspectionContract implements the built-in IInterfaceQuery001
// interface every Behaviour auto-binds: it enumerates, tests for, and
// describes the bindings flagged AllowIntrospection.
type introspectionContract struct {
	behaviour *Behaviour
}

// Operations declares the descriptor for IInterfaceQuery001 itself. Its
// binding is flagged AllowIntrospection, so GetInterfaces lists it, but
// none of its operations are, so GetInterfaceInfo describes it with an
// empty operation list.
func (c *introspectionContract) Operations() []OperationSpec {
	return []OperationSpec{
		{
			Name:       "GetInterfaces",
			ReturnType: "[]string",
		},
		{
			Name:       "HasInterface",
			Arguments:  []ArgumentSpec{{Name: "Name", Type: "string"}},
			ReturnType: "bool",
		},
		{
			Name:       "GetInterfaceInfo",
			Arguments:  []ArgumentSpec{{Name: "Name", Type: "string"}},
			ReturnType: "InterfaceInfo",
		},
	}
}

// GetInterfaces returns the names of every binding flagged for
// introspection, sorted for deterministic output.
func (c *introspectionContract) GetInterfaces() ([]string, error) {
	c.behaviour.mu.RLock()
	defer c.behaviour.mu.RUnlock()

	names := make([]string, 0, len(c.behaviour.bindings))
	for _, b := range c.behaviour.bindings {
		if b.allowIntrospection {
			names = append(names, b.name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// HasInterface reports whether name is bound and exposed to introspection.
func (c *introspectionContract) HasInterface(name string) (bool, error) {
	c.behaviour.mu.RLock()
	defer c.behaviour.mu.RUnlock()

	b, ok := c.behaviour.bindings[strings.ToLower(name)]
	return ok && b.allowIntrospection, nil
}

// GetInterfaceInfo describes the named interface's introspectable
// operations, or fails with NotFound if it is unbound or not exposed.
func (c *introspectionContract) GetInterfaceInfo(name string) (InterfaceInfo, error) {
	c.behaviour.mu.RLock()
	b, ok := c.behaviour.bindings[strings.ToLower(name)]
	c.behaviour.mu.RUnlock()

	if !ok || !b.allowIntrospection {
		return InterfaceInfo{}, NewException(CodeNotFound, "The interface could not be found")
	}
	return b.describe(), nil
}
