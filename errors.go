package gamescript

import (
	"errors"
	"fmt"
)

var (
	// ErrScriptSkipped is the cooperative signal used to unwind a script
	// whose invocation was skipped. It is always translated into the
	// listener's OnSkipped callback at the slot boundary and never reaches
	// OnError.
	ErrScriptSkipped = errors.New("script skipped")

	// ErrEngineClosed is returned by operations submitted after Dispose.
	ErrEngineClosed = errors.New("engine closed")

	// ErrUnknownBackend is returned when compiling against a backend name
	// that was never registered.
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrUnknownScript is returned when invoking a script id that was never
	// compiled by this engine.
	ErrUnknownScript = errors.New("unknown script")

	// ErrBackendRegistered is returned by Register when a backend with the
	// same name already has a pool.
	ErrBackendRegistered = errors.New("backend already registered")
)

// CompileError reports a malformed script source. It is surfaced
// synchronously from Compile and CompileStream.
type CompileError struct {
	Backend string
	Name    string
	Err     error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %s (%s backend): %v", e.Name, e.Backend, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// isSkip reports whether err is the cooperative skip signal, however deeply
// a backend may have wrapped it.
func isSkip(err error) bool { return errors.Is(err, ErrScriptSkipped) }
