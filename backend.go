package gamescript

// Program is an opaque compiled script artifact. A Program may be executed
// concurrently by any number of executors belonging to the backend that
// produced it.
type Program any

// Backend is a script language runtime collaborator. Each registered backend
// gets its own bounded executor pool; a sandboxed and a non-sandboxed
// configuration of the same language are distinct backends and therefore
// never share pool slots.
type Backend interface {
	// Name identifies the backend for Compile routing. Must be unique per
	// engine.
	Name() string

	// Sandboxed reports whether scripts run by this backend are isolated
	// from host facilities beyond their bindings.
	Sandboxed() bool

	// Compile parses source into a reusable Program. Identical source must
	// yield an equivalent artifact regardless of how it was supplied.
	Compile(name, source string) (Program, error)

	// NewExecutor allocates the interpreter state for one execution slot.
	// Executors are reused across invocations but never shared between
	// goroutines concurrently.
	NewExecutor() Executor
}

// Executor runs compiled programs on behalf of a single pool slot.
type Executor interface {
	// Run executes prog to completion with the given bindings, returning a
	// snapshot of the binding environment. A skipped script surfaces as an
	// error satisfying errors.Is(err, ErrScriptSkipped).
	Run(inv *Invocation, prog Program, bindings Bindings) (ExecutionResult, error)

	// Interrupt asks the currently running script to stop at the next safe
	// point. The granularity of "next safe point" is a property of the
	// backend. Safe to call from any goroutine.
	Interrupt(err error)

	// Close releases interpreter resources.
	Close() error
}
