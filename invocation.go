package gamescript

import (
	"sync"
	"sync/atomic"
)

// Invocation is one run of a compiled script: its process-unique id, binding
// environment, listener, and the cross-goroutine skip signal. Multiple
// concurrent invocations of one compiled script are allowed; each gets its
// own Invocation.
type Invocation struct {
	id       int64
	scriptID int
	prog     Program
	bindings Bindings
	listener Listener
	pool     *executorPool

	// skip is the one-way script-skip request flag. Checked by Await at
	// every wait checkpoint and by the pool before starting a queued run.
	skip atomic.Bool

	// done guards exactly-once terminal delivery.
	done atomic.Bool

	mu      sync.Mutex
	exec    Executor
	current *Future
}

// ID returns the invocation id assigned at submission. Distinct from the
// compiled script id.
func (inv *Invocation) ID() int64 { return inv.id }

// ScriptID returns the compiled script this invocation runs.
func (inv *Invocation) ScriptID() int { return inv.scriptID }

// SkipRequested reports whether the whole script was asked to skip.
func (inv *Invocation) SkipRequested() bool { return inv.skip.Load() }

// Await parks the calling worker goroutine on f until the game thread
// completes it (nil), someone abandons the single wait via f.Skip (nil; the
// script continues), or a script-skip is observed, in which case the task's
// script-skip hook fires and ErrScriptSkipped is returned to unwind the
// script. Backends call this from their blocking host primitive; it must
// only run on the goroutine executing this invocation.
func (inv *Invocation) Await(f *Future) error {
	inv.mu.Lock()
	inv.current = f
	inv.mu.Unlock()
	defer func() {
		inv.mu.Lock()
		inv.current = nil
		inv.mu.Unlock()
	}()

	f.mu.Lock()
	for {
		if f.completed || f.futureSkipped {
			f.mu.Unlock()
			return nil
		}
		if f.scriptSkipped || inv.skip.Load() {
			f.scriptSkipped = true
			f.mu.Unlock()
			f.fireScriptSkipHook()
			return ErrScriptSkipped
		}
		f.cond.Wait()
	}
}

// requestSkip delivers a script-skip: it raises the flag, interrupts the
// executor so the backend stops at its next statement boundary, and wakes
// the future the script is currently waiting on, if any. Safe from any
// goroutine, idempotent.
func (inv *Invocation) requestSkip() {
	inv.skip.Store(true)

	inv.mu.Lock()
	exec, current := inv.exec, inv.current
	inv.mu.Unlock()

	if exec != nil {
		exec.Interrupt(ErrScriptSkipped)
	}
	if current != nil {
		current.markScriptSkipped()
	}
}

func (inv *Invocation) setExecutor(exec Executor) {
	inv.mu.Lock()
	inv.exec = exec
	inv.mu.Unlock()
}
