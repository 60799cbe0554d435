// Package gamescript runs scripts for a tick-driven host simulation without
// ever stalling the simulation's own thread. Scripts execute to completion
// on bounded pools of worker goroutines and may suspend indefinitely inside
// a blocking wait on a Future; the game thread drives every pending Future
// once per Update call and wakes satisfied waiters. Either a single wait or
// an entire script can be skipped cooperatively from any goroutine.
//
// Script language runtimes plug in through the Backend interface; see the
// jsbackend and exprbackend subpackages.
package gamescript

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Engine orchestrates script execution: it owns one bounded executor pool
// per registered backend, the registry of pending Futures, the per-tick
// update entry point, and skip/cancel signaling.
//
// Threading contract: exactly one goroutine (the game thread) calls Update,
// once per simulation frame. Every other exported method is safe from any
// goroutine.
type Engine struct {
	id       string
	log      *zap.Logger
	poolSize int
	nextID   func() int64

	mu          sync.Mutex
	closed      bool
	pools       map[string]*executorPool
	scripts     map[int]*compiledScript
	invocations map[int64]*Invocation

	futuresMu     sync.Mutex
	futuresClosed bool
	futures       map[int64]*Future

	notifyMu      sync.Mutex
	notifications []func()
}

type compiledScript struct {
	id   int
	name string
	prog Program
	pool *executorPool
}

// New creates an engine with no backends registered.
func New(opts ...Option) *Engine {
	e := &Engine{
		id:          uuid.NewString(),
		log:         zap.NewNop(),
		pools:       make(map[string]*executorPool),
		scripts:     make(map[int]*compiledScript),
		invocations: make(map[int64]*Invocation),
		futures:     make(map[int64]*Future),
	}
	counter := new(atomic.Int64)
	e.nextID = func() int64 { return counter.Add(1) }
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.Named("gamescript").With(zap.String("engine", e.id))
	return e
}

// Register creates the executor pool for one backend. Backends must be
// registered before scripts are compiled against them.
func (e *Engine) Register(b Backend) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	name := b.Name()
	if _, ok := e.pools[name]; ok {
		return fmt.Errorf("%w: %q", ErrBackendRegistered, name)
	}
	e.pools[name] = newExecutorPool(e, b, e.poolSize, e.log.Named("pool"))
	e.log.Info("backend registered", zap.String("backend", name), zap.Bool("sandboxed", b.Sandboxed()))
	return nil
}

// Compile compiles source once for the named backend and returns a stable
// script id reusable across many invocations. Malformed source yields a
// *CompileError.
func (e *Engine) Compile(backend, source string) (int, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, ErrEngineClosed
	}
	pool, ok := e.pools[backend]
	e.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}

	id := int(e.nextID())
	name := fmt.Sprintf("script-%d", id)
	prog, err := pool.backend.Compile(name, source)
	if err != nil {
		return 0, &CompileError{Backend: backend, Name: name, Err: err}
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, ErrEngineClosed
	}
	e.scripts[id] = &compiledScript{id: id, name: name, prog: prog, pool: pool}
	e.mu.Unlock()

	e.log.Debug("script compiled", zap.String("backend", backend), zap.Int("script", id))
	return id, nil
}

// CompileStream reads the full source from r and compiles it. Identical
// content yields an artifact equivalent to Compile's.
func (e *Engine) CompileStream(backend string, r io.Reader) (int, error) {
	source, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("read script source: %w", err)
	}
	return e.Compile(backend, string(source))
}

// Invoke asynchronously runs a compiled script with the given bindings,
// routing it to the owning backend's pool. It never blocks the caller; the
// returned invocation id can be passed to SkipScript. Exactly one listener
// callback fires, eventually, provided the host keeps driving Update.
func (e *Engine) Invoke(scriptID int, bindings Bindings, listener Listener) (int64, error) {
	inv, err := e.newInvocation(scriptID, bindings, listener)
	if err != nil {
		return 0, err
	}
	if err := inv.pool.submit(inv); err != nil {
		e.removeInvocation(inv.id)
		return 0, err
	}
	e.log.Debug("script invoked",
		zap.Int("script", scriptID), zap.Int64("invocation", inv.id))
	return inv.id, nil
}

// InvokeLocally runs a compiled script synchronously on the calling
// goroutine, bypassing the pool slots. It is intended for scripts that never
// block: if the script does wait on a Future, the caller itself becomes the
// waiter, and unless some other goroutine is driving Update the call will
// never return. The engine does not guard against this.
func (e *Engine) InvokeLocally(scriptID int, bindings Bindings, listener Listener) (int64, error) {
	inv, err := e.newInvocation(scriptID, bindings, listener)
	if err != nil {
		return 0, err
	}

	exec := inv.pool.backend.NewExecutor()
	defer func() {
		if cerr := exec.Close(); cerr != nil {
			e.log.Warn("local executor close failed", zap.Error(cerr))
		}
	}()

	inv.setExecutor(exec)
	result, runErr := runGuarded(exec, inv)
	inv.setExecutor(nil)
	e.finish(inv, result, runErr)
	return inv.id, nil
}

func (e *Engine) newInvocation(scriptID int, bindings Bindings, listener Listener) (*Invocation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	cs, ok := e.scripts[scriptID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownScript, scriptID)
	}
	inv := &Invocation{
		id:       e.nextID(),
		scriptID: scriptID,
		prog:     cs.prog,
		bindings: bindings.clone(),
		listener: listener,
		pool:     cs.pool,
	}
	e.invocations[inv.id] = inv
	return inv, nil
}

// Update advances the simulation by delta seconds: every pending Future is
// driven once, futures that completed or were future-skipped leave the
// registry before Update returns, and the game-thread delivery queue is
// flushed afterwards, in completion order. Game thread only.
func (e *Engine) Update(delta float64) {
	e.futuresMu.Lock()
	pending := make([]*Future, 0, len(e.futures))
	for _, f := range e.futures {
		pending = append(pending, f)
	}
	e.futuresMu.Unlock()

	var resolved []int64
	for _, f := range pending {
		if f.advance(delta) {
			resolved = append(resolved, f.id)
		}
	}
	if len(resolved) > 0 {
		e.futuresMu.Lock()
		for _, id := range resolved {
			delete(e.futures, id)
		}
		e.futuresMu.Unlock()
	}

	e.flushNotifications()
}

// SkipAllFutures abandons every currently pending wait. Scripts blocked on
// those futures resume as if the wait had completed; futures created after
// this call are unaffected.
func (e *Engine) SkipAllFutures() {
	e.futuresMu.Lock()
	pending := make([]*Future, 0, len(e.futures))
	for _, f := range e.futures {
		pending = append(pending, f)
	}
	e.futuresMu.Unlock()

	for _, f := range pending {
		f.Skip()
	}
	e.log.Debug("all pending futures skipped", zap.Int("count", len(pending)))
}

// SkipScript cooperatively tears down one invocation: a wait in progress
// unwinds immediately and the backend abandons execution at its next
// statement boundary. Unknown or already finished ids are ignored.
func (e *Engine) SkipScript(invocationID int64) {
	e.mu.Lock()
	inv := e.invocations[invocationID]
	e.mu.Unlock()
	if inv == nil {
		return
	}
	inv.requestSkip()
	e.log.Debug("script skip requested", zap.Int64("invocation", invocationID))
}

// PendingFutures returns the size of the pending registry.
func (e *Engine) PendingFutures() int {
	e.futuresMu.Lock()
	defer e.futuresMu.Unlock()
	return len(e.futures)
}

// Dispose tears the engine down: every pool is disposed (in-flight scripts
// are script-skipped, queued ones reported skipped, workers joined), the
// pending registry is cleared, and any still-queued game-thread deliveries
// are flushed on the calling goroutine so the exactly-once listener
// guarantee holds through shutdown. Idempotent.
func (e *Engine) Dispose() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	pools := make([]*executorPool, 0, len(e.pools))
	for _, p := range e.pools {
		pools = append(pools, p)
	}
	e.mu.Unlock()

	e.futuresMu.Lock()
	e.futuresClosed = true
	e.futuresMu.Unlock()

	var g errgroup.Group
	for _, p := range pools {
		g.Go(p.dispose)
	}
	err := g.Wait()

	e.futuresMu.Lock()
	e.futures = make(map[int64]*Future)
	e.futuresMu.Unlock()

	e.flushNotifications()
	e.log.Info("engine disposed")
	return err
}

// finish reports an invocation's terminal outcome exactly once, translating
// the cooperative skip signal into OnSkipped. Any error from an invocation
// whose skip was requested is treated as the skip it is.
func (e *Engine) finish(inv *Invocation, result ExecutionResult, err error) {
	if inv.done.Swap(true) {
		return
	}
	e.removeInvocation(inv.id)

	l := inv.listener
	var fn func()
	switch {
	case err == nil:
		e.log.Debug("script succeeded", zap.Int64("invocation", inv.id))
		if l.OnSuccess != nil {
			fn = func() { l.OnSuccess(inv.id, result) }
		}
	case isSkip(err) || inv.SkipRequested():
		e.log.Debug("script skipped", zap.Int64("invocation", inv.id))
		if l.OnSkipped != nil {
			fn = func() { l.OnSkipped(inv.id) }
		}
	default:
		e.log.Warn("script failed", zap.Int64("invocation", inv.id), zap.Error(err))
		if l.OnError != nil {
			fn = func() { l.OnError(inv.id, err) }
		}
	}
	if fn == nil {
		return
	}
	if !l.OnGameThread {
		fn()
		return
	}
	e.notifyMu.Lock()
	e.notifications = append(e.notifications, fn)
	e.notifyMu.Unlock()
}

func (e *Engine) flushNotifications() {
	e.notifyMu.Lock()
	ready := e.notifications
	e.notifications = nil
	e.notifyMu.Unlock()

	for _, fn := range ready {
		fn()
	}
}

func (e *Engine) removeInvocation(id int64) {
	e.mu.Lock()
	delete(e.invocations, id)
	e.mu.Unlock()
}

// invocationsOf snapshots the live invocations belonging to one pool;
// dispose uses it to deliver the script-skip to every in-flight script.
func (e *Engine) invocationsOf(p *executorPool) []*Invocation {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*Invocation
	for _, inv := range e.invocations {
		if inv.pool == p {
			out = append(out, inv)
		}
	}
	return out
}
