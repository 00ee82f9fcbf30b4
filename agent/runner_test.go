package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/adw/logstream"
)

// writeFakeCLI installs a shell script that plays the role of the
// headless CLI. The script finds its --output-file argument, appends
// the given NDJSON payload, and exits with the given code.
func writeFakeCLI(t *testing.T, ndjson string, exitCode int) string {
	t.Helper()
	dir := t.TempDir()
	payload := filepath.Join(dir, "payload.jsonl")
	require.NoError(t, os.WriteFile(payload, []byte(ndjson), 0o644))
	script := fmt.Sprintf(`#!/bin/sh
out=""
prev=""
for arg in "$@"; do
  if [ "$prev" = "--output-file" ]; then out="$arg"; fi
  prev="$arg"
done
if [ -n "$out" ]; then
  cat %q >> "$out"
fi
exit %d
`, payload, exitCode)
	path := filepath.Join(dir, "fake-cli")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newTestRunner(t *testing.T, cli string) (*Runner, string) {
	t.Helper()
	outDir := t.TempDir()
	r := NewRunner(cli, t.TempDir(), logstream.New(),
		WithRetrySchedule(RetrySchedule{MaxAttempts: 3, Delays: []time.Duration{0, 0, 0}}),
		withSleep(func(time.Duration) {}),
	)
	return r, filepath.Join(outDir, "planner", "output.jsonl")
}

func TestExecuteSuccess(t *testing.T) {
	cli := writeFakeCLI(t, `{"type":"result","result":"plan written","total_cost_usd":0.25}`+"\n", 0)
	r, out := newTestRunner(t, cli)

	resp, err := r.Execute(context.Background(), Request{
		AgentName:    "planner",
		SlashCommand: SlashPlanFeature,
		Args:         []string{"456", "a1b2c3d4"},
		RunID:        "a1b2c3d4",
		Phase:        "plan",
		ModelSet:     "base",
		OutputFile:   out,
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, RetryNone, resp.RetryCode)
	assert.Equal(t, "plan written", resp.Output)
	assert.Equal(t, 0.25, resp.CostUSD)
	assert.Equal(t, 1, resp.Attempts)

	// Prompt audit trail exists beside the output file.
	audit, err := os.ReadFile(filepath.Join(filepath.Dir(out), "prompts", "attempt-1.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(audit), SlashPlanFeature)
	assert.Contains(t, string(audit), "456 a1b2c3d4")
}

func TestExecuteNonZeroExitIsCliError(t *testing.T) {
	cli := writeFakeCLI(t, "", 3)
	r, out := newTestRunner(t, cli)

	resp, err := r.Execute(context.Background(), Request{
		AgentName: "planner", SlashCommand: SlashTest,
		RunID: "a1b2c3d4", Phase: "test", OutputFile: out,
	})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, RetryCLIError, resp.RetryCode)
	assert.Equal(t, 3, resp.Attempts, "cli_error is retryable and must exhaust the schedule")
}

func TestExecuteZeroExitNoResultIsExecutionError(t *testing.T) {
	cli := writeFakeCLI(t, `{"type":"assistant","message":{"content":[]}}`+"\n", 0)
	r, out := newTestRunner(t, cli)

	resp, err := r.Execute(context.Background(), Request{
		AgentName: "tester", SlashCommand: SlashTest,
		RunID: "a1b2c3d4", Phase: "test", OutputFile: out,
	})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, RetryExecutionError, resp.RetryCode)
}

func TestExecuteAgentReportedError(t *testing.T) {
	cli := writeFakeCLI(t, `{"type":"result","is_error":true,"error":"tests failed: 3"}`+"\n", 0)
	r, out := newTestRunner(t, cli)

	resp, err := r.Execute(context.Background(), Request{
		AgentName: "tester", SlashCommand: SlashTest,
		RunID: "a1b2c3d4", Phase: "test", OutputFile: out,
	})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, RetryAgentReported, resp.RetryCode)
	assert.Equal(t, "tests failed: 3", resp.Output)
}

func TestExecuteTimeout(t *testing.T) {
	script := "#!/bin/sh\nsleep 30\n"
	path := filepath.Join(t.TempDir(), "slow-cli")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	r := NewRunner(path, t.TempDir(), logstream.New(),
		WithRetrySchedule(RetrySchedule{MaxAttempts: 1, Delays: nil}),
		withSleep(func(time.Duration) {}),
	)
	out := filepath.Join(t.TempDir(), "reviewer", "output.jsonl")

	start := time.Now()
	resp, err := r.Execute(context.Background(), Request{
		AgentName: "reviewer", SlashCommand: SlashReview,
		RunID: "a1b2c3d4", Phase: "review",
		OutputFile: out,
		Timeout:    500 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, RetryTimeout, resp.RetryCode)
	assert.Equal(t, 0, r.Processes().Live("a1b2c3d4"), "child must be reaped")
}

func TestExecuteStreamsToLogStream(t *testing.T) {
	ndjson := `{"type":"assistant","message":{"content":[{"type":"text","text":"step"}]}}` + "\n" +
		`{"type":"result","result":"done"}` + "\n"
	cli := writeFakeCLI(t, ndjson, 0)

	logs := logstream.New()
	r := NewRunner(cli, t.TempDir(), logs, withSleep(func(time.Duration) {}))
	out := filepath.Join(t.TempDir(), "implementor", "output.jsonl")

	_, err := r.Execute(context.Background(), Request{
		AgentName: "implementor", SlashCommand: SlashImplement,
		RunID: "a1b2c3d4", Phase: "build", OutputFile: out,
	})
	require.NoError(t, err)

	entries := logs.Snapshot("a1b2c3d4", logstream.Filter{})
	require.NotEmpty(t, entries)
	var messages []string
	for _, e := range entries {
		messages = append(messages, e.Message)
		assert.Equal(t, "build", e.Phase)
	}
	assert.Contains(t, messages, "step")
	assert.Contains(t, messages, "done")
}

func TestRetryScheduleDelays(t *testing.T) {
	s := DefaultRetrySchedule()
	assert.Equal(t, 3, s.MaxAttempts)
	assert.Equal(t, time.Duration(0), s.DelayBefore(1))
	assert.Equal(t, time.Second, s.DelayBefore(2))
	assert.Equal(t, 3*time.Second, s.DelayBefore(3))
	// Past the ladder the last delay repeats.
	assert.Equal(t, 5*time.Second, s.DelayBefore(5))
}

func TestModelFor(t *testing.T) {
	assert.Equal(t, "opus", ModelFor(SlashPlanFeature, "heavy", ""))
	assert.Equal(t, "sonnet", ModelFor(SlashPlanFeature, "base", ""))
	assert.Equal(t, "sonnet", ModelFor(SlashClassifyIssue, "heavy", ""))
	assert.Equal(t, "custom-model", ModelFor(SlashPlanFeature, "base", "custom-model"))
	// Unknown set falls back to base; unknown command to the fast model.
	assert.Equal(t, "sonnet", ModelFor("/unknown", "nope", ""))
}

func TestPlanCommandFor(t *testing.T) {
	assert.Equal(t, SlashPlanBug, PlanCommandFor("bug"))
	assert.Equal(t, SlashPlanChore, PlanCommandFor("chore"))
	assert.Equal(t, SlashPlanFeature, PlanCommandFor("feature"))
	assert.Equal(t, SlashPlanFeature, PlanCommandFor(""))
}
