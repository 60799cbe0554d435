package gamescript

// Listener receives the terminal outcome of one invocation. Exactly one of
// OnSuccess, OnSkipped, or OnError fires, exactly once, once the invocation
// reaches a terminal state. Nil callbacks are allowed and simply drop the
// corresponding outcome.
type Listener struct {
	OnSuccess func(invocationID int64, result ExecutionResult)
	OnSkipped func(invocationID int64)
	OnError   func(invocationID int64, err error)

	// OnGameThread defers delivery to the next Update call, guaranteeing the
	// callback runs on the game thread. When false the callback fires on the
	// worker goroutine the instant the script finishes, with no ordering
	// guarantee relative to other concurrently finishing scripts.
	OnGameThread bool
}
