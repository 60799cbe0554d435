package gamescript

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// executorPool is a bounded set of execution slots for one backend plus a
// FIFO queue of pending invocations. The slot count is the only admission
// control knob: at most size scripts of this backend run simultaneously.
type executorPool struct {
	engine  *Engine
	backend Backend
	log     *zap.Logger
	size    int

	mu      sync.Mutex
	idle    []Executor
	queue   []*Invocation
	running int
	closed  bool

	wg sync.WaitGroup
}

// clampPoolSize derives a sane slot count from hardware concurrency: the
// default (and ceiling) is processor count + 1.
func clampPoolSize(requested int) int {
	limit := runtime.NumCPU() + 1
	if requested <= 0 || requested > limit {
		return limit
	}
	return requested
}

func newExecutorPool(e *Engine, b Backend, requested int, log *zap.Logger) *executorPool {
	p := &executorPool{
		engine:  e,
		backend: b,
		log:     log,
		size:    clampPoolSize(requested),
	}
	p.log.Debug("executor pool created",
		zap.String("backend", b.Name()),
		zap.Bool("sandboxed", b.Sandboxed()),
		zap.Int("slots", p.size))
	return p
}

// submit starts inv on a free slot immediately, or enqueues it FIFO. Never
// blocks the caller.
func (p *executorPool) submit(inv *Invocation) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrEngineClosed
	}
	if p.running >= p.size {
		p.queue = append(p.queue, inv)
		p.mu.Unlock()
		p.log.Debug("invocation queued", zap.Int64("invocation", inv.id))
		return nil
	}
	p.running++
	var exec Executor
	if n := len(p.idle); n > 0 {
		exec = p.idle[n-1]
		p.idle = p.idle[:n-1]
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go p.work(exec, inv)
	return nil
}

// work is one slot's lifetime: it runs invocations back to back until the
// queue is empty or the pool is disposed, then parks its executor (or closes
// it on shutdown).
func (p *executorPool) work(exec Executor, inv *Invocation) {
	defer p.wg.Done()
	if exec == nil {
		exec = p.backend.NewExecutor()
	}
	for inv != nil {
		p.runOne(exec, inv)
		inv = p.next(exec)
	}
}

// runOne executes a single invocation on exec and reports its terminal
// outcome through the engine. A skip requested while the invocation was
// still queued short-circuits without running the script at all.
func (p *executorPool) runOne(exec Executor, inv *Invocation) {
	if inv.SkipRequested() {
		p.engine.finish(inv, nil, ErrScriptSkipped)
		return
	}
	inv.setExecutor(exec)
	result, err := runGuarded(exec, inv)
	inv.setExecutor(nil)
	p.engine.finish(inv, result, err)
}

// runGuarded isolates the engine from interpreter panics: a panicking script
// fails its own invocation and nothing else.
func runGuarded(exec Executor, inv *Invocation) (result ExecutionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok && errors.Is(e, ErrScriptSkipped) {
				result, err = nil, ErrScriptSkipped
				return
			}
			result, err = nil, fmt.Errorf("script panic: %v", r)
		}
	}()
	return exec.Run(inv, inv.prog, inv.bindings)
}

// next hands the slot its next queued invocation, or releases it. On a
// closed pool the executor is closed rather than parked.
func (p *executorPool) next(exec Executor) *Invocation {
	p.mu.Lock()
	if !p.closed && len(p.queue) > 0 {
		inv := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()
		return inv
	}
	p.running--
	closed := p.closed
	if !closed {
		p.idle = append(p.idle, exec)
	}
	p.mu.Unlock()

	if closed {
		if err := exec.Close(); err != nil {
			p.log.Warn("executor close failed", zap.Error(err))
		}
	}
	return nil
}

// dispose hard-cancels the pool: queued-but-never-started invocations are
// reported skipped, every active invocation receives a script-skip, and all
// worker goroutines are joined before dispose returns.
func (p *executorPool) dispose() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	queued := p.queue
	p.queue = nil
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, inv := range queued {
		p.engine.finish(inv, nil, ErrScriptSkipped)
	}
	for _, inv := range p.engine.invocationsOf(p) {
		inv.requestSkip()
	}
	p.wg.Wait()

	var errs []error
	for _, exec := range idle {
		if err := exec.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.log.Debug("executor pool disposed", zap.String("backend", p.backend.Name()))
	return errors.Join(errs...)
}
