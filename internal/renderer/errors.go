package renderer

import "fmt"

// ProtocolError wraps a malformed or rejected renderer response — a
// non-2xx submission, or a 2xx body missing the fields the contract
// requires.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string { return e.Message }

// JobFailed is raised when the renderer's history reports a terminal
// failure status. History is attached so the caller can surface it on the
// failure callback.
type JobFailed struct {
	Message string
	History map[string]interface{}
}

func (e *JobFailed) Error() string { return e.Message }

// Cancelled is raised when the cancellation signal was observed before the
// renderer reported completion.
type Cancelled struct {
	PromptID string
}

func (e *Cancelled) Error() string {
	return fmt.Sprintf("renderer job %s cancelled", e.PromptID)
}

// TimeoutError is raised when the poll deadline elapses before completion.
type TimeoutError struct {
	PromptID string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("renderer job %s timed out", e.PromptID)
}
