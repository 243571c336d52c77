package toolexec

// Error wraps a tool-execution failure with whether a retry is worthwhile,
// the same Retryable/fatal split the orchestrator's planner loop uses for
// LLM-stage errors.
type Error struct {
	Err       error
	Retryable bool
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func NewRetryableError(err error) *Error { return &Error{Err: err, Retryable: true} }
func NewFatalError(err error) *Error     { return &Error{Err: err, Retryable: false} }
