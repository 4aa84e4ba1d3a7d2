package importer

import (
	"context"
	"errors"
	"fmt"

	"github.com/vietddude/blockimport/internal/infra/storage"
)

// StepError reports the orchestrator state at which a batch was aborted.
type StepError struct {
	State State
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("import aborted at %s: %v", e.State, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a failed batch may succeed if submitted again unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, storage.ErrTransient) ||
		errors.Is(err, context.DeadlineExceeded)
}

// FailedState returns the state a batch was aborted at, or "" for errors not raised by Import.
func FailedState(err error) State {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.State
	}
	return ""
}
