// Package orchestrator implements C8, the Turn Orchestrator: the stage
// sequence (analyze, validate, retrieve, synthesize context, validate
// context, plan, execute, synthesize, validate, save) that turns one user
// message into a TurnDocument, polling the intervention queue between every
// stage and tool call.
package orchestrator

// Error wraps a stage failure with whether the turn can be retried from the
// same stage or must fail the turn outright, mirroring the teacher's
// retryable/fatal split for engagement processing.
type Error struct {
	Err       error
	Kind      string // "llm_error" | "tool_error" | "validation_exhausted" | "cancelled" | "locked"
	Retryable bool
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func newError(kind string, retryable bool, err error) *Error {
	return &Error{Err: err, Kind: kind, Retryable: retryable}
}
