package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/adw/logstream"
)

var retriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "adw",
	Subsystem: "agent",
	Name:      "retries_total",
	Help:      "Agent invocation retries by retry code.",
}, []string{"retry_code"})

// RetryMetrics exposes the agent collectors for registration by the
// composition root.
func RetryMetrics() []prometheus.Collector {
	return []prometheus.Collector{retriesTotal}
}

// Runner spawns the headless AI CLI and turns its output into a
// Response.
type Runner struct {
	cliPath  string
	repoRoot string
	logs     *logstream.Stream
	procs    *ProcessTable
	schedule RetrySchedule
	logger   *slog.Logger

	// sleep is swappable in tests so retry ladders don't slow suites.
	sleep func(time.Duration)
}

// Option configures a Runner.
type Option func(*Runner)

// WithRetrySchedule overrides the default retry ladder.
func WithRetrySchedule(s RetrySchedule) Option {
	return func(r *Runner) {
		if s.MaxAttempts > 0 {
			r.schedule = s
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithProcessTable shares a process table with the delete path.
func WithProcessTable(t *ProcessTable) Option {
	return func(r *Runner) {
		if t != nil {
			r.procs = t
		}
	}
}

func withSleep(f func(time.Duration)) Option {
	return func(r *Runner) { r.sleep = f }
}

// NewRunner creates a Runner. cliPath is the headless AI CLI binary
// (default "claude"); repoRoot is the fallback working directory.
func NewRunner(cliPath, repoRoot string, logs *logstream.Stream, opts ...Option) *Runner {
	if cliPath == "" {
		cliPath = "claude"
	}
	r := &Runner{
		cliPath:  cliPath,
		repoRoot: repoRoot,
		logs:     logs,
		procs:    NewProcessTable(),
		schedule: DefaultRetrySchedule(),
		logger:   slog.Default(),
		sleep:    time.Sleep,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Processes returns the shared process table.
func (r *Runner) Processes() *ProcessTable {
	return r.procs
}

// Execute runs the request through the retry schedule. The Response is
// never nil; exhausted retries surface the last attempt's classification
// with Success=false.
func (r *Runner) Execute(ctx context.Context, req Request) (*Response, error) {
	if req.OutputFile == "" {
		return nil, errors.New("agent request missing output file")
	}
	if err := os.MkdirAll(filepath.Dir(req.OutputFile), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	var resp *Response
	for attempt := 1; attempt <= r.schedule.MaxAttempts; attempt++ {
		if delay := r.schedule.DelayBefore(attempt); delay > 0 {
			r.sleep(delay)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := r.auditPrompt(req, attempt); err != nil {
			r.logger.Warn("prompt audit write failed", "error", err)
		}

		resp = r.attempt(ctx, req)
		resp.Attempts = attempt
		if resp.Success {
			return resp, nil
		}

		retriesTotal.WithLabelValues(string(resp.RetryCode)).Inc()
		r.logger.Warn("agent attempt failed",
			"run_id", req.RunID,
			"agent", req.AgentName,
			"command", req.SlashCommand,
			"attempt", attempt,
			"retry_code", resp.RetryCode,
			"output", truncate(resp.Output, 200))

		if !resp.RetryCode.Retryable() {
			break
		}
	}
	return resp, nil
}

// attempt spawns the CLI once and classifies the outcome.
func (r *Runner) attempt(ctx context.Context, req Request) *Response {
	runCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	workDir := req.WorkingDir
	if workDir == "" {
		workDir = r.repoRoot
	}

	prompt := req.SlashCommand
	if len(req.Args) > 0 {
		prompt += " " + strings.Join(req.Args, " ")
	}

	args := []string{
		"-p",
		"--model", ModelFor(req.SlashCommand, req.ModelSet, req.Model),
		"--output-format", "stream-json",
		"--output-file", req.OutputFile,
		prompt,
	}

	cmd := exec.Command(r.cliPath, args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), req.ExtraEnv...)
	// Own process group so a teardown kill reaps the CLI's children
	// (dev servers, browsers) too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return &Response{
			Output:    fmt.Sprintf("failed to start %s: %v", r.cliPath, err),
			RetryCode: RetryCLIError,
		}
	}
	r.procs.add(req.RunID, cmd.Process.Pid)
	defer r.procs.remove(req.RunID, cmd.Process.Pid)

	// Tail the NDJSON file while the child runs; stop after exit once
	// the file is drained.
	tailCtx, tailDone := context.WithCancel(context.Background())
	tailFinished := make(chan struct{})
	go func() {
		defer close(tailFinished)
		NewTailer(req.OutputFile, req.RunID, req.Phase, r.logs, r.logger).Run(tailCtx)
	}()

	waitErr := r.wait(runCtx, cmd)
	tailDone()
	<-tailFinished

	timedOut := runCtx.Err() == context.DeadlineExceeded
	return r.classify(req, waitErr, timedOut)
}

// wait blocks on the child, killing its process group if ctx expires.
func (r *Runner) wait(ctx context.Context, cmd *exec.Cmd) error {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		return ctx.Err()
	}
}

// classify applies the exit/result table from the runner contract.
func (r *Runner) classify(req Request, waitErr error, timedOut bool) *Response {
	if timedOut {
		return &Response{
			Output:    fmt.Sprintf("agent timed out after %s", req.Timeout),
			RetryCode: RetryTimeout,
		}
	}
	if waitErr != nil {
		return &Response{
			Output:    fmt.Sprintf("agent CLI failed: %v", waitErr),
			RetryCode: RetryCLIError,
		}
	}

	content, err := os.ReadFile(req.OutputFile)
	if err != nil {
		return &Response{
			Output:    fmt.Sprintf("agent exited 0 but output unreadable: %v", err),
			RetryCode: RetryExecutionError,
		}
	}
	final, ok := FinalResult(content)
	if !ok {
		return &Response{
			Output:    "agent exited 0 without a result record",
			RetryCode: RetryExecutionError,
		}
	}
	if final.IsError || final.Error != "" {
		msg := final.Error
		if msg == "" {
			msg = final.Result
		}
		return &Response{
			Output:    msg,
			RetryCode: RetryAgentReported,
			CostUSD:   final.CostUSD,
		}
	}
	return &Response{
		Output:    final.Result,
		Success:   true,
		RetryCode: RetryNone,
		CostUSD:   final.CostUSD,
	}
}

// auditPrompt records the exact command and arguments beside the
// output file.
func (r *Runner) auditPrompt(req Request, attempt int) error {
	dir := filepath.Join(filepath.Dir(req.OutputFile), "prompts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	body := fmt.Sprintf("command: %s\nargs: %s\nmodel: %s\nmodel_set: %s\nattempt: %d\ntime: %s\n",
		req.SlashCommand,
		strings.Join(req.Args, " "),
		ModelFor(req.SlashCommand, req.ModelSet, req.Model),
		req.ModelSet,
		attempt,
		time.Now().UTC().Format(time.RFC3339))
	name := fmt.Sprintf("attempt-%d.txt", attempt)
	return os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
