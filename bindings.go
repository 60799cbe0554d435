package gamescript

// Bindings is a script's initial variable environment: a mapping from name
// to one of string, bool, integer, float, or a host object reference such as
// *Future. Duplicate puts overwrite.
type Bindings map[string]any

// NewBindings returns an empty binding environment.
func NewBindings() Bindings { return make(Bindings) }

// Put sets a named binding, overwriting any previous value, and returns the
// receiver for chaining.
func (b Bindings) Put(name string, value any) Bindings {
	b[name] = value
	return b
}

// clone snapshots the bindings at submission time so later caller-side
// mutation cannot race a running script.
func (b Bindings) clone() Bindings {
	c := make(Bindings, len(b))
	for k, v := range b {
		c[k] = v
	}
	return c
}

// ExecutionResult is the snapshot of a script's binding environment taken
// after it ran to completion. It is never mutated once produced.
type ExecutionResult map[string]any
