// Package exprbackend implements the gamescript.Backend contract with
// expr-lang: each script is a single expression evaluated against its
// bindings. The backend is inherently sandboxed; scripts can reach nothing
// beyond the env built from their bindings.
//
// Expressions cannot reassign bindings, so the expression's value is stored
// in the execution result under the "result" key. Futures are exposed with
// Wait/Skip/Completed members; because expr has no interrupt mechanism,
// script-skip is observed only at wait checkpoints.
package exprbackend

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.uber.org/zap"

	"github.com/joeycumines/gamescript"
)

// ResultKey is the execution-result binding name holding the expression's
// value.
const ResultKey = "result"

// Option configures a Backend.
type Option func(*Backend)

// WithLogger attaches a structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(b *Backend) {
		if log != nil {
			b.log = log
		}
	}
}

// Backend evaluates expr-lang expressions.
type Backend struct {
	log *zap.Logger
}

// New constructs an expression backend.
func New(opts ...Option) *Backend {
	b := &Backend{log: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.Named(b.Name())
	return b
}

func (b *Backend) Name() string { return "expr" }

func (b *Backend) Sandboxed() bool { return true }

// Compile parses the expression without a typed environment; binding names
// are resolved at run time.
func (b *Backend) Compile(name, source string) (gamescript.Program, error) {
	prog, err := expr.Compile(source, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	return prog, nil
}

func (b *Backend) NewExecutor() gamescript.Executor {
	return &executor{}
}

type executor struct {
	mu   sync.Mutex
	intr error
}

// Run evaluates the expression with the bindings as env. The result holds
// the original bindings plus the expression value under ResultKey.
func (x *executor) Run(inv *gamescript.Invocation, prog gamescript.Program, bindings gamescript.Bindings) (gamescript.ExecutionResult, error) {
	p, ok := prog.(*vm.Program)
	if !ok {
		return nil, fmt.Errorf("exprbackend: unexpected program type %T", prog)
	}

	x.mu.Lock()
	x.intr = nil
	x.mu.Unlock()

	env := make(map[string]any, len(bindings))
	for name, value := range bindings {
		if f, isFuture := value.(*gamescript.Future); isFuture {
			env[name] = &futureEnv{exec: x, inv: inv, future: f}
			continue
		}
		env[name] = value
	}

	out, err := expr.Run(p, env)
	if err != nil {
		return nil, err
	}
	if err := x.interrupted(); err != nil {
		return nil, err
	}

	result := make(gamescript.ExecutionResult, len(bindings)+1)
	for name, value := range bindings {
		result[name] = value
	}
	result[ResultKey] = out
	return result, nil
}

// Interrupt records the pending skip; the running expression observes it at
// its next wait checkpoint.
func (x *executor) Interrupt(err error) {
	x.mu.Lock()
	x.intr = err
	x.mu.Unlock()
}

func (x *executor) Close() error { return nil }

func (x *executor) interrupted() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.intr
}

// futureEnv is the script-facing view of a Future inside an expression env.
// Method errors propagate out of expr.Run and unwind the script.
type futureEnv struct {
	exec   *executor
	inv    *gamescript.Invocation
	future *gamescript.Future
}

// Wait blocks the worker until the future resolves. Returns true so waits
// can appear mid-expression (e.g. "timer.Wait() && intValue").
func (w *futureEnv) Wait() (bool, error) {
	if err := w.exec.interrupted(); err != nil {
		return false, err
	}
	if err := w.inv.Await(w.future); err != nil {
		return false, err
	}
	if err := w.exec.interrupted(); err != nil {
		return false, err
	}
	return true, nil
}

// Skip abandons this one wait; the expression keeps evaluating.
func (w *futureEnv) Skip() bool {
	w.future.Skip()
	return true
}

func (w *futureEnv) Completed() bool     { return w.future.Completed() }
func (w *futureEnv) FutureSkipped() bool { return w.future.FutureSkipped() }
func (w *futureEnv) ScriptSkipped() bool { return w.future.ScriptSkipped() }
func (w *futureEnv) ID() int64           { return w.future.ID() }
