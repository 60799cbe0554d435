package gamescript

import "go.uber.org/zap"

// Option configures an Engine.
type Option func(*Engine)

// WithMaxConcurrentScripts requests the slot count for each backend pool.
// The request is clamped to [1, NumCPU+1]; zero or negative selects the
// default of NumCPU+1.
func WithMaxConcurrentScripts(n int) Option {
	return func(e *Engine) { e.poolSize = n }
}

// WithLogger attaches a structured logger. The default is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithIDAllocator injects the allocator used for script, invocation, and
// future identity. It must return process-unique, monotonically increasing
// integers and be safe for concurrent use. The default is an engine-owned
// atomic counter.
func WithIDAllocator(next func() int64) Option {
	return func(e *Engine) {
		if next != nil {
			e.nextID = next
		}
	}
}
