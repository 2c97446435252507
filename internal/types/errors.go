package types

import "fmt"

// =============================================================================
// ERROR TAXONOMY
// =============================================================================
// Four failure categories cross package boundaries. Everything else is wrapped
// with fmt.Errorf("...: %w", err) and stays local to its package.

// AuthorizationError is a gate or registrar denial. Recoverable: on the gate
// path it is always paired with a command_denied event.
type AuthorizationError struct {
	Identity string
	Risk     RiskClass
	Reason   string
}

func (e *AuthorizationError) Error() string {
	if e.Risk != "" {
		return fmt.Sprintf("authorization denied for %q (risk %s): %s", e.Identity, e.Risk, e.Reason)
	}
	return fmt.Sprintf("authorization denied for %q: %s", e.Identity, e.Reason)
}

// WorkerInitError records a worker whose OnStart failed. The manager isolates
// it and keeps starting the rest.
type WorkerInitError struct {
	Worker string
	Err    error
}

func (e *WorkerInitError) Error() string {
	return fmt.Sprintf("worker %s failed to start: %v", e.Worker, e.Err)
}

func (e *WorkerInitError) Unwrap() error { return e.Err }

// WorkerRuntimeError records an unhandled failure inside a worker's
// processing loop. The worker transitions to crashed; the bus and the other
// workers are unaffected.
type WorkerRuntimeError struct {
	Worker string
	Err    error
}

func (e *WorkerRuntimeError) Error() string {
	return fmt.Sprintf("worker %s crashed: %v", e.Worker, e.Err)
}

func (e *WorkerRuntimeError) Unwrap() error { return e.Err }

// BusOverflowError reports a publish that timed out on one worker's full
// inbox under the blocking policy. It concerns that single message and that
// single worker; delivery to other workers is unaffected.
type BusOverflowError struct {
	Worker string
	Kind   Kind
}

func (e *BusOverflowError) Error() string {
	return fmt.Sprintf("inbox full for worker %s (kind %s)", e.Worker, e.Kind)
}
