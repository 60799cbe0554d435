package gamescript

import (
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterDuplicateBackend(t *testing.T) {
	e := New()
	defer func() { _ = e.Dispose() }()

	require.NoError(t, e.Register(newFakeBackend()))
	require.ErrorIs(t, e.Register(newFakeBackend()), ErrBackendRegistered)
}

func TestCompileUnknownBackend(t *testing.T) {
	e := New()
	defer func() { _ = e.Dispose() }()

	_, err := e.Compile("lua", "print('hi')")
	require.ErrorIs(t, err, ErrUnknownBackend)
}

func TestCompileErrorIsTyped(t *testing.T) {
	e := New()
	defer func() { _ = e.Dispose() }()
	require.NoError(t, e.Register(newFakeBackend()))

	_, err := e.Compile("fake", "not a known script")
	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
	assert.Equal(t, "fake", compileErr.Backend)
	assert.Contains(t, compileErr.Error(), "unexpected token")
}

func TestCompileStreamMatchesCompile(t *testing.T) {
	e := New()
	defer func() { _ = e.Dispose() }()

	b := newFakeBackend().add("echo", func(inv *Invocation, bindings Bindings) (ExecutionResult, error) {
		return ExecutionResult{"value": bindings["value"]}, nil
	})
	require.NoError(t, e.Register(b))

	id1, err := e.Compile("fake", "echo")
	require.NoError(t, err)
	id2, err := e.CompileStream("fake", strings.NewReader("echo"))
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	// Both artifacts execute identically.
	run := func(id int) ExecutionResult {
		results := make(chan ExecutionResult, 1)
		_, err := e.Invoke(id, NewBindings().Put("value", int64(7)), Listener{
			OnSuccess: func(_ int64, result ExecutionResult) { results <- result },
		})
		require.NoError(t, err)
		select {
		case result := <-results:
			return result
		case <-time.After(5 * time.Second):
			t.Fatal("listener never fired")
			return nil
		}
	}
	assert.Equal(t, run(id1), run(id2))
}

func TestInvokeUnknownScript(t *testing.T) {
	e := New()
	defer func() { _ = e.Dispose() }()

	_, err := e.Invoke(42, NewBindings(), Listener{})
	require.ErrorIs(t, err, ErrUnknownScript)
}

func TestInvokeWorkerThreadDelivery(t *testing.T) {
	e := New()
	defer func() { _ = e.Dispose() }()

	b := newFakeBackend().add("echo", func(inv *Invocation, bindings Bindings) (ExecutionResult, error) {
		return ExecutionResult{"value": bindings["value"]}, nil
	})
	require.NoError(t, e.Register(b))

	id, err := e.Compile("fake", "echo")
	require.NoError(t, err)

	results := make(chan ExecutionResult, 1)
	invID, err := e.Invoke(id, NewBindings().Put("value", int64(7)), Listener{
		OnSuccess: func(gotID int64, result ExecutionResult) {
			results <- result
		},
	})
	require.NoError(t, err)
	require.Greater(t, invID, int64(0))

	// Worker-thread delivery fires without any Update call.
	select {
	case result := <-results:
		assert.Equal(t, int64(7), result["value"])
	case <-time.After(5 * time.Second):
		t.Fatal("listener never fired")
	}
}

func TestGameThreadDeliveryWaitsForUpdate(t *testing.T) {
	e := New()
	defer func() { _ = e.Dispose() }()

	finished := make(chan struct{})
	b := newFakeBackend().add("noop", func(inv *Invocation, bindings Bindings) (ExecutionResult, error) {
		defer close(finished)
		return ExecutionResult{}, nil
	})
	require.NoError(t, e.Register(b))

	id, err := e.Compile("fake", "noop")
	require.NoError(t, err)

	var delivered atomic.Bool
	_, err = e.Invoke(id, NewBindings(), Listener{
		OnGameThread: true,
		OnSuccess:    func(int64, ExecutionResult) { delivered.Store(true) },
	})
	require.NoError(t, err)

	<-finished
	// The script is done, but delivery is parked until the next tick.
	time.Sleep(10 * time.Millisecond)
	assert.False(t, delivered.Load())

	e.Update(1)
	assert.True(t, delivered.Load())
}

func TestUpdateRemovesResolvedFutures(t *testing.T) {
	e := New()
	defer func() { _ = e.Dispose() }()

	task := &dummyTask{}
	e.NewFuture(task)
	require.Equal(t, 1, e.PendingFutures())

	e.Update(1)
	assert.Equal(t, 1, e.PendingFutures())

	task.complete.Store(true)
	e.Update(1)
	assert.Equal(t, 0, e.PendingFutures())
}

func TestSkipAllFutures(t *testing.T) {
	e := New()
	defer func() { _ = e.Dispose() }()

	first := &dummyTask{}
	second := &dummyTask{}
	f1 := e.NewFuture(first)
	f2 := e.NewFuture(second)

	e.SkipAllFutures()
	e.SkipAllFutures()

	assert.True(t, f1.FutureSkipped())
	assert.True(t, f2.FutureSkipped())
	assert.Equal(t, int64(1), first.futureSkips.Load())
	assert.Equal(t, int64(1), second.futureSkips.Load())

	e.Update(1)
	assert.Equal(t, 0, e.PendingFutures())

	// Futures created afterwards are unaffected.
	f3 := e.NewFuture(&dummyTask{})
	assert.False(t, f3.FutureSkipped())
}

func TestRuntimeErrorIsolated(t *testing.T) {
	e := New()
	defer func() { _ = e.Dispose() }()

	boom := errors.New("boom")
	b := newFakeBackend().
		add("fail", func(inv *Invocation, bindings Bindings) (ExecutionResult, error) {
			return nil, boom
		}).
		add("ok", func(inv *Invocation, bindings Bindings) (ExecutionResult, error) {
			return ExecutionResult{}, nil
		})
	require.NoError(t, e.Register(b))

	failID, err := e.Compile("fake", "fail")
	require.NoError(t, err)
	okID, err := e.Compile("fake", "ok")
	require.NoError(t, err)

	errs := make(chan error, 1)
	_, err = e.Invoke(failID, NewBindings(), Listener{
		OnError: func(_ int64, err error) { errs <- err },
	})
	require.NoError(t, err)

	select {
	case got := <-errs:
		require.ErrorIs(t, got, boom)
	case <-time.After(5 * time.Second):
		t.Fatal("OnError never fired")
	}

	// The failure did not poison the pool.
	done := make(chan struct{})
	_, err = e.Invoke(okID, NewBindings(), Listener{
		OnSuccess: func(int64, ExecutionResult) { close(done) },
	})
	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("subsequent invocation never finished")
	}
}

func TestScriptPanicBecomesError(t *testing.T) {
	e := New()
	defer func() { _ = e.Dispose() }()

	b := newFakeBackend().add("panic", func(inv *Invocation, bindings Bindings) (ExecutionResult, error) {
		panic("kaboom")
	})
	require.NoError(t, e.Register(b))

	id, err := e.Compile("fake", "panic")
	require.NoError(t, err)

	errs := make(chan error, 1)
	_, err = e.Invoke(id, NewBindings(), Listener{
		OnError: func(_ int64, err error) { errs <- err },
	})
	require.NoError(t, err)

	select {
	case got := <-errs:
		assert.Contains(t, got.Error(), "kaboom")
	case <-time.After(5 * time.Second):
		t.Fatal("OnError never fired")
	}
}

func TestInvokeLocallySynchronous(t *testing.T) {
	e := New()
	defer func() { _ = e.Dispose() }()

	b := newFakeBackend().add("echo", func(inv *Invocation, bindings Bindings) (ExecutionResult, error) {
		return ExecutionResult{"value": bindings["value"]}, nil
	})
	require.NoError(t, e.Register(b))

	id, err := e.Compile("fake", "echo")
	require.NoError(t, err)

	// Worker-thread delivery fires inline, before InvokeLocally returns.
	var result ExecutionResult
	_, err = e.InvokeLocally(id, NewBindings().Put("value", "hi"), Listener{
		OnSuccess: func(_ int64, r ExecutionResult) { result = r },
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "hi", result["value"])

	// Game-thread delivery is parked until the next tick even for local runs.
	var delivered atomic.Bool
	_, err = e.InvokeLocally(id, NewBindings(), Listener{
		OnGameThread: true,
		OnSuccess:    func(int64, ExecutionResult) { delivered.Store(true) },
	})
	require.NoError(t, err)
	assert.False(t, delivered.Load())
	e.Update(1)
	assert.True(t, delivered.Load())
}

func TestSkipScriptUnknownIDIgnored(t *testing.T) {
	e := New()
	defer func() { _ = e.Dispose() }()
	e.SkipScript(12345)
}

func TestEngineClosedRejectsWork(t *testing.T) {
	e := New()
	b := newFakeBackend().add("noop", func(inv *Invocation, bindings Bindings) (ExecutionResult, error) {
		return ExecutionResult{}, nil
	})
	require.NoError(t, e.Register(b))
	id, err := e.Compile("fake", "noop")
	require.NoError(t, err)

	require.NoError(t, e.Dispose())
	require.NoError(t, e.Dispose())

	_, err = e.Compile("fake", "noop")
	require.ErrorIs(t, err, ErrEngineClosed)
	_, err = e.Invoke(id, NewBindings(), Listener{})
	require.ErrorIs(t, err, ErrEngineClosed)
	require.ErrorIs(t, e.Register(newFakeBackend()), ErrEngineClosed)
}

func TestWithIDAllocator(t *testing.T) {
	var counter atomic.Int64
	counter.Store(1000)
	e := New(WithIDAllocator(func() int64 { return counter.Add(1) }))
	defer func() { _ = e.Dispose() }()

	f := e.NewFuture(&dummyTask{})
	assert.Greater(t, f.ID(), int64(1000))
}
