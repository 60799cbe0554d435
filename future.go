package gamescript

import "sync"

// FutureTask is the condition behind a Future. Update is called once per
// tick, from the game thread only, until it reports completion or the future
// is skipped.
type FutureTask interface {
	// Update advances the task by delta seconds of game time and reports
	// whether the underlying condition is now satisfied.
	Update(delta float64) bool
}

// FutureSkipObserver is implemented by tasks that hold an external resource
// (a timer, an animation handle) which must be released when their one wait
// is abandoned while the script continues.
type FutureSkipObserver interface {
	OnFutureSkipped()
}

// ScriptSkipObserver is implemented by tasks that must clean up when the
// entire owning script is torn down.
type ScriptSkipObserver interface {
	OnScriptSkipped()
}

// Future is a single pending asynchronous condition: the unit of cooperative
// suspension between a worker goroutine and the game thread. A Future
// registers itself with its engine's pending registry at construction and is
// removed exactly once, by the game thread, within the Update call in which
// it first becomes completed or future-skipped.
//
// All three state flags are one-way: once set they never revert.
type Future struct {
	id     int64
	engine *Engine
	task   FutureTask

	mu   sync.Mutex
	cond *sync.Cond

	completed     bool
	futureSkipped bool
	scriptSkipped bool

	futureHookFired bool
	scriptHookFired bool
}

// NewFuture creates a Future driven by task and registers it with the
// engine's pending registry. Callable from any goroutine.
func (e *Engine) NewFuture(task FutureTask) *Future {
	f := &Future{
		id:     e.nextID(),
		engine: e,
		task:   task,
	}
	f.cond = sync.NewCond(&f.mu)

	e.futuresMu.Lock()
	if e.futuresClosed {
		// The engine is tearing down: nothing will ever advance this future,
		// so any waiter must unwind as if the script were skipped.
		f.scriptSkipped = true
	} else {
		e.futures[f.id] = f
	}
	e.futuresMu.Unlock()
	return f
}

// ID returns the process-unique id assigned at construction.
func (f *Future) ID() int64 { return f.id }

// Completed reports whether the future finished without being skipped.
func (f *Future) Completed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed
}

// FutureSkipped reports whether this one wait was abandoned.
func (f *Future) FutureSkipped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.futureSkipped
}

// ScriptSkipped reports whether the owning script was asked to skip while
// this future was pending.
func (f *Future) ScriptSkipped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scriptSkipped
}

// Skip abandons this one wait; the owning script keeps running. The task's
// OnFutureSkipped hook fires at most once. Idempotent, callable from any
// goroutine.
func (f *Future) Skip() {
	f.mu.Lock()
	if f.completed || f.futureSkipped {
		f.mu.Unlock()
		return
	}
	f.futureSkipped = true
	fire := !f.futureHookFired
	f.futureHookFired = true
	f.cond.Broadcast()
	f.mu.Unlock()

	if fire {
		if o, ok := f.task.(FutureSkipObserver); ok {
			o.OnFutureSkipped()
		}
	}
}

// advance drives the task once and reports whether the future should leave
// the pending registry. Game thread only; the registry drops a future the
// same tick it completes, so advance never runs on an already-completed
// future across ticks.
func (f *Future) advance(delta float64) bool {
	f.mu.Lock()
	if f.completed || f.futureSkipped {
		f.mu.Unlock()
		return true
	}
	f.mu.Unlock()

	// The task may call back into the engine (e.g. create futures), so it
	// must run outside the future's monitor.
	if !f.task.Update(delta) {
		return false
	}

	f.mu.Lock()
	if !f.futureSkipped {
		f.completed = true
	}
	f.cond.Broadcast()
	f.mu.Unlock()
	return true
}

// markScriptSkipped flags the future as belonging to a skipped script and
// wakes any waiter. The script-skip hook fires from the waiter's goroutine
// when it observes the flag, mirroring how the wait unwinds.
func (f *Future) markScriptSkipped() {
	f.mu.Lock()
	f.scriptSkipped = true
	f.cond.Broadcast()
	f.mu.Unlock()
}

func (f *Future) fireScriptSkipHook() {
	f.mu.Lock()
	fire := !f.scriptHookFired
	f.scriptHookFired = true
	f.mu.Unlock()

	if fire {
		if o, ok := f.task.(ScriptSkipObserver); ok {
			o.OnScriptSkipped()
		}
	}
}
