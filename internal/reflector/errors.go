// Package reflector implements C9, the Batch Reflector: a background
// process that periodically re-reads a user's recent turns and proposes
// durable facts, corrections, and connections to stage into long-term
// memory (§4.6). It never runs inline with a turn — a panic or a stuck LLM
// call here must never take down the turn path.
package reflector

// Error wraps a batch failure; Retryable distinguishes a transient read/LLM
// failure (requeue the trigger) from a malformed trigger (send to DLQ),
// mirroring the orchestrator package's retryable/fatal split.
type Error struct {
	Err       error
	Retryable bool
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func newRetryableError(err error) *Error { return &Error{Err: err, Retryable: true} }
func newFatalError(err error) *Error      { return &Error{Err: err, Retryable: false} }
