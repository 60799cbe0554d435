// Package jsbackend implements the gamescript.Backend contract on top of the
// goja JavaScript interpreter. Compiled programs are shared across executors;
// each executor owns one goja.Runtime. Script-skip is delivered through
// goja's interrupt mechanism and therefore takes effect at the next
// statement boundary.
package jsbackend

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	"go.uber.org/zap"

	"github.com/joeycumines/gamescript"
)

// Option configures a Backend.
type Option func(*Backend)

// WithLogger routes console output and backend diagnostics through log.
func WithLogger(log *zap.Logger) Option {
	return func(b *Backend) {
		if log != nil {
			b.log = log
		}
	}
}

// Sandboxed disables the require registry and console module, leaving
// scripts with nothing beyond their bindings. A sandboxed backend registers
// under a distinct name and so never shares pool slots with the default one.
func Sandboxed() Option {
	return func(b *Backend) { b.sandboxed = true }
}

// Backend runs JavaScript via goja.
type Backend struct {
	log       *zap.Logger
	registry  *require.Registry
	sandboxed bool
}

// New constructs a JavaScript backend.
func New(opts ...Option) *Backend {
	b := &Backend{log: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.Named(b.Name())
	if !b.sandboxed {
		b.registry = require.NewRegistry()
		b.registry.RegisterNativeModule(console.ModuleName,
			console.RequireWithPrinter(consolePrinter{log: b.log.Named("console")}))
	}
	return b
}

func (b *Backend) Name() string {
	if b.sandboxed {
		return "js-sandboxed"
	}
	return "js"
}

func (b *Backend) Sandboxed() bool { return b.sandboxed }

// Compile parses source into a *goja.Program, which is safe to execute
// concurrently from any number of runtimes.
func (b *Backend) Compile(name, source string) (gamescript.Program, error) {
	prog, err := goja.Compile(name, source, false)
	if err != nil {
		return nil, err
	}
	return prog, nil
}

// NewExecutor allocates a fresh goja runtime for one execution slot.
func (b *Backend) NewExecutor() gamescript.Executor {
	vm := goja.New()
	if b.registry != nil {
		b.registry.Enable(vm)
		console.Enable(vm)
	}
	return &executor{vm: vm}
}

type executor struct {
	vm *goja.Runtime
}

// Run executes prog with the bindings installed as globals, then snapshots
// those same globals as the result. Future bindings surface to the script as
// objects with wait/skip/completed members; the result carries the original
// *gamescript.Future back to the host.
func (x *executor) Run(inv *gamescript.Invocation, prog gamescript.Program, bindings gamescript.Bindings) (gamescript.ExecutionResult, error) {
	p, ok := prog.(*goja.Program)
	if !ok {
		return nil, fmt.Errorf("jsbackend: unexpected program type %T", prog)
	}

	// A skip aimed at the previous occupant of this slot must not carry over.
	x.vm.ClearInterrupt()

	futures := make(map[string]*gamescript.Future)
	for name, value := range bindings {
		if f, isFuture := value.(*gamescript.Future); isFuture {
			futures[name] = f
			if err := x.vm.Set(name, x.futureObject(inv, f)); err != nil {
				return nil, fmt.Errorf("jsbackend: bind %q: %w", name, err)
			}
			continue
		}
		if err := x.vm.Set(name, value); err != nil {
			return nil, fmt.Errorf("jsbackend: bind %q: %w", name, err)
		}
	}
	defer x.clearGlobals(bindings)

	if _, err := x.vm.RunProgram(p); err != nil {
		return nil, translateRunError(err)
	}

	result := make(gamescript.ExecutionResult, len(bindings))
	for name := range bindings {
		if f, isFuture := futures[name]; isFuture {
			result[name] = f
			continue
		}
		// Scripts can delete assignment-created globals; report those as nil.
		if v := x.vm.Get(name); v != nil {
			result[name] = v.Export()
		} else {
			result[name] = nil
		}
	}
	return result, nil
}

// Interrupt stops the running script at its next statement boundary.
func (x *executor) Interrupt(err error) {
	x.vm.Interrupt(err)
}

func (x *executor) Close() error {
	x.vm = nil
	return nil
}

// futureObject wraps a Future for script consumption. wait() parks the
// worker goroutine; on script-skip it both interrupts the runtime and throws
// so the script unwinds immediately yet cannot swallow the skip with a
// try/catch.
func (x *executor) futureObject(inv *gamescript.Invocation, f *gamescript.Future) *goja.Object {
	obj := x.vm.NewObject()
	_ = obj.Set("id", f.ID)
	_ = obj.Set("wait", func() {
		if err := inv.Await(f); err != nil {
			x.vm.Interrupt(err)
			panic(x.vm.NewGoError(err))
		}
	})
	_ = obj.Set("skip", f.Skip)
	_ = obj.Set("completed", f.Completed)
	_ = obj.Set("futureSkipped", f.FutureSkipped)
	_ = obj.Set("scriptSkipped", f.ScriptSkipped)
	return obj
}

// clearGlobals removes this invocation's bindings so the next script run on
// the same executor starts clean.
func (x *executor) clearGlobals(bindings gamescript.Bindings) {
	global := x.vm.GlobalObject()
	for name := range bindings {
		_ = global.Delete(name)
	}
}

// translateRunError maps goja's failure modes onto the engine's taxonomy:
// interrupts and thrown exceptions carrying the skip signal become
// ErrScriptSkipped; everything else is a runtime error.
func translateRunError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok && errors.Is(cause, gamescript.ErrScriptSkipped) {
			return gamescript.ErrScriptSkipped
		}
		return err
	}
	var thrown *goja.Exception
	if errors.As(err, &thrown) {
		if v := thrown.Value(); v != nil {
			if cause, ok := v.Export().(error); ok && errors.Is(cause, gamescript.ErrScriptSkipped) {
				return gamescript.ErrScriptSkipped
			}
		}
	}
	return err
}

// consolePrinter adapts the structured logger to goja_nodejs's console
// module.
type consolePrinter struct {
	log *zap.Logger
}

func (p consolePrinter) Log(s string)   { p.log.Info(s) }
func (p consolePrinter) Warn(s string)  { p.log.Warn(s) }
func (p consolePrinter) Error(s string) { p.log.Error(s) }
