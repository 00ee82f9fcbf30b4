package phase

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoWorktree is returned when a dependent phase runs against a run
// whose state has no worktree.
var ErrNoWorktree = errors.New("run has no worktree")

// ErrAgentFailed wraps an agent invocation that failed after retries.
var ErrAgentFailed = errors.New("agent failed")

// ShipValidationError lists the state fields ship requires that were
// unset. Non-retryable; the operator fixes state or reruns earlier
// phases.
type ShipValidationError struct {
	RunID   string
	Missing []string
}

func (e *ShipValidationError) Error() string {
	return fmt.Sprintf("ShipValidationFailed: %s", strings.Join(e.Missing, ", "))
}
