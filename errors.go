package browserpilot

import (
	"errors"
	"fmt"
)

// ErrNotStarted is returned when a pipeline method is called before Start.
var ErrNotStarted = errors.New("browserpilot: not started, call Start first")

// ExtractError wraps a failed extraction. The failed request's cached
// responses are purged before this error is returned, so a retry re-runs
// inference instead of replaying the bad responses.
type ExtractError struct {
	Instruction string
	RequestID   string
	Err         error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("browserpilot: extract %q (request %s): %v", e.Instruction, e.RequestID, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// ObserveError wraps a failed observation.
type ObserveError struct {
	Instruction string
	RequestID   string
	Err         error
}

func (e *ObserveError) Error() string {
	return fmt.Sprintf("browserpilot: observe %q (request %s): %v", e.Instruction, e.RequestID, e.Err)
}

func (e *ObserveError) Unwrap() error { return e.Err }
