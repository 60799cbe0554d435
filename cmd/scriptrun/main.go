// Command scriptrun compiles a script file and drives it through a simple
// tick loop, demonstrating the engine's blocking-wait machinery: the script
// receives a "timer" future that completes after -timer seconds of game
// time.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/joeycumines/gamescript"
	"github.com/joeycumines/gamescript/exprbackend"
	"github.com/joeycumines/gamescript/jsbackend"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	backendName := flag.String("backend", "js", "script backend: js, js-sandboxed, or expr")
	tick := flag.Duration("tick", 16*time.Millisecond, "simulated frame duration")
	timer := flag.Float64("timer", 1.0, "game-time seconds until the timer future completes")
	maxScripts := flag.Int("max-concurrent", 0, "max concurrently running scripts (0 = NumCPU+1)")
	flag.Parse()

	if flag.NArg() != 1 {
		return fmt.Errorf("usage: scriptrun [flags] <script-file>")
	}

	log, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	engine := gamescript.New(
		gamescript.WithLogger(log),
		gamescript.WithMaxConcurrentScripts(*maxScripts),
	)
	defer func() { _ = engine.Dispose() }()

	for _, b := range []gamescript.Backend{
		jsbackend.New(jsbackend.WithLogger(log)),
		jsbackend.New(jsbackend.WithLogger(log), jsbackend.Sandboxed()),
		exprbackend.New(exprbackend.WithLogger(log)),
	} {
		if err := engine.Register(b); err != nil {
			return err
		}
	}

	source, err := os.Open(flag.Arg(0))
	if err != nil {
		return err
	}
	scriptID, err := engine.CompileStream(*backendName, source)
	_ = source.Close()
	if err != nil {
		return err
	}

	bindings := gamescript.NewBindings().
		Put("stringValue", "hello").
		Put("booleanValue", false).
		Put("intValue", int64(7)).
		Put("timer", engine.NewFuture(gamescript.NewTimerTask(*timer)))

	done := make(chan error, 1)
	_, err = engine.Invoke(scriptID, bindings, gamescript.Listener{
		OnGameThread: true,
		OnSuccess: func(id int64, result gamescript.ExecutionResult) {
			log.Info("script succeeded", zap.Int64("invocation", id), zap.Any("result", result))
			done <- nil
		},
		OnSkipped: func(id int64) {
			log.Warn("script skipped", zap.Int64("invocation", id))
			done <- nil
		},
		OnError: func(id int64, err error) {
			done <- err
		},
	})
	if err != nil {
		return err
	}

	delta := tick.Seconds()
	for {
		engine.Update(delta)
		select {
		case err := <-done:
			return err
		case <-time.After(*tick):
		}
	}
}
