package gamescript

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// scriptFunc is a fake compiled program body.
type scriptFunc func(inv *Invocation, bindings Bindings) (ExecutionResult, error)

// fakeBackend maps script source strings to Go functions, letting the engine
// and pool semantics be exercised without a real interpreter.
type fakeBackend struct {
	name      string
	sandboxed bool
	scripts   map[string]scriptFunc

	executors atomic.Int64
	closes    atomic.Int64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{name: "fake", scripts: make(map[string]scriptFunc)}
}

func (b *fakeBackend) add(source string, fn scriptFunc) *fakeBackend {
	b.scripts[source] = fn
	return b
}

func (b *fakeBackend) Name() string    { return b.name }
func (b *fakeBackend) Sandboxed() bool { return b.sandboxed }

func (b *fakeBackend) Compile(name, source string) (Program, error) {
	fn, ok := b.scripts[source]
	if !ok {
		return nil, fmt.Errorf("unexpected token in %q", source)
	}
	return fakeProgram{fn: fn}, nil
}

func (b *fakeBackend) NewExecutor() Executor {
	b.executors.Add(1)
	return &fakeExecutor{backend: b}
}

type fakeProgram struct {
	fn scriptFunc
}

type fakeExecutor struct {
	backend *fakeBackend

	mu         sync.Mutex
	interrupts []error
}

func (x *fakeExecutor) Run(inv *Invocation, prog Program, bindings Bindings) (ExecutionResult, error) {
	return prog.(fakeProgram).fn(inv, bindings)
}

func (x *fakeExecutor) Interrupt(err error) {
	x.mu.Lock()
	x.interrupts = append(x.interrupts, err)
	x.mu.Unlock()
}

func (x *fakeExecutor) Close() error {
	x.backend.closes.Add(1)
	return nil
}

// dummyTask is an externally driven future condition that records every
// interaction, mirroring the behavior probes used by the engine tests.
type dummyTask struct {
	complete    atomic.Bool
	updates     atomic.Int64
	futureSkips atomic.Int64
	scriptSkips atomic.Int64
}

func (d *dummyTask) Update(delta float64) bool {
	d.updates.Add(1)
	return d.complete.Load()
}

func (d *dummyTask) OnFutureSkipped() { d.futureSkips.Add(1) }
func (d *dummyTask) OnScriptSkipped() { d.scriptSkips.Add(1) }
