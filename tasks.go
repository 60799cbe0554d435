package gamescript

import "sync/atomic"

// TimerTask completes after a fixed amount of game time has elapsed. Update
// runs on the game thread only, so no locking is needed.
type TimerTask struct {
	remaining float64
}

// NewTimerTask returns a task that completes once seconds of accumulated
// tick deltas have passed.
func NewTimerTask(seconds float64) *TimerTask {
	return &TimerTask{remaining: seconds}
}

func (t *TimerTask) Update(delta float64) bool {
	t.remaining -= delta
	return t.remaining <= 0
}

// Remaining returns the game time left before completion.
func (t *TimerTask) Remaining() float64 { return t.remaining }

// SignalTask completes on the first tick after Set is called. Set is safe
// from any goroutine, making this the bridge between external events (async
// I/O, engine callbacks) and a script's wait.
type SignalTask struct {
	set atomic.Bool
}

// NewSignalTask returns an unset signal task.
func NewSignalTask() *SignalTask { return &SignalTask{} }

// Set marks the condition satisfied. Idempotent.
func (s *SignalTask) Set() { s.set.Store(true) }

func (s *SignalTask) Update(delta float64) bool { return s.set.Load() }
