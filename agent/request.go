// Package agent spawns the headless AI CLI in a run's worktree,
// streams its NDJSON output into the log stream, parses the final
// result record, and classifies failures for retry.
package agent

import "time"

// RetryCode classifies the outcome of one agent invocation.
type RetryCode string

// Retry codes. Everything except RetryNone is retryable.
const (
	RetryNone           RetryCode = "none"
	RetryCLIError       RetryCode = "cli_error"
	RetryTimeout        RetryCode = "timeout"
	RetryExecutionError RetryCode = "execution_error"
	RetryAgentReported  RetryCode = "agent_reported_error"
)

// Retryable reports whether the code warrants another attempt.
func (c RetryCode) Retryable() bool {
	return c != RetryNone
}

// Request describes one agent invocation.
type Request struct {
	// AgentName namespaces the output directory (planner, implementor,
	// tester, reviewer, documenter, shipper, patcher).
	AgentName string

	// SlashCommand is the template to invoke (e.g. "/feature").
	SlashCommand string

	// Args are positional arguments appended to the slash command.
	Args []string

	// WorkingDir is where the CLI runs; empty means the primary repo.
	WorkingDir string

	// Model overrides the model table when non-empty.
	Model string

	// ModelSet picks the table column when Model is empty.
	ModelSet string

	// RunID and Phase label log entries from this invocation.
	RunID string
	Phase string

	// OutputFile is the NDJSON path the CLI appends to. Retries reuse
	// the same file.
	OutputFile string

	// Timeout bounds the child process; zero means unbounded.
	Timeout time.Duration

	// ExtraEnv entries are appended to the child environment.
	ExtraEnv []string
}

// Response is the outcome of an invocation after retries.
type Response struct {
	// Output is the final result text on success, or the best
	// available error description on failure.
	Output string

	// Success mirrors RetryCode == RetryNone.
	Success bool

	// RetryCode classifies the final attempt.
	RetryCode RetryCode

	// CostUSD is the total_cost_usd reported by the result record.
	CostUSD float64

	// Attempts is how many times the CLI was spawned.
	Attempts int
}

// RetrySchedule is the delay ladder between attempts.
type RetrySchedule struct {
	// MaxAttempts caps spawns per request.
	MaxAttempts int

	// Delays holds the sleep before each retry; the last entry repeats
	// if attempts outnumber entries.
	Delays []time.Duration
}

// DefaultRetrySchedule returns the standard 3-attempt ladder.
func DefaultRetrySchedule() RetrySchedule {
	return RetrySchedule{
		MaxAttempts: 3,
		Delays:      []time.Duration{time.Second, 3 * time.Second, 5 * time.Second},
	}
}

// DelayBefore returns the sleep preceding attempt n (attempts are
// 1-based; the first attempt has no delay).
func (s RetrySchedule) DelayBefore(attempt int) time.Duration {
	if attempt <= 1 || len(s.Delays) == 0 {
		return 0
	}
	idx := attempt - 2
	if idx >= len(s.Delays) {
		idx = len(s.Delays) - 1
	}
	return s.Delays[idx]
}
