// Package phase implements the workflow phases: plan, build, test,
// review, document, ship, and patch. Each phase is a method on Engine
// that loads run state, invokes the agent runner with the right slash
// command, performs VCS and forge actions, and persists the outcome.
// Entry phases (plan, patch) create the run; dependent phases require
// an existing worktree and fail fast without one.
package phase

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/c360studio/adw/agent"
	"github.com/c360studio/adw/logstream"
	"github.com/c360studio/adw/notify"
	"github.com/c360studio/adw/ports"
	"github.com/c360studio/adw/state"
	"github.com/c360studio/adw/tools/forge"
)

// Phase names, used in broadcasts, commit messages, and metrics.
const (
	PhasePlan     = "plan"
	PhaseBuild    = "build"
	PhaseTest     = "test"
	PhaseReview   = "review"
	PhaseDocument = "document"
	PhaseShip     = "ship"
	PhasePatch    = "patch"
)

// Agent names namespace output directories under the run's state dir.
const (
	agentPlanner     = "planner"
	agentImplementor = "implementor"
	agentTester      = "tester"
	agentReviewer    = "reviewer"
	agentDocumenter  = "documenter"
	agentShipper     = "shipper"
	agentPatcher     = "patcher"
)

// DefaultReviewTimeout bounds the review agent, which drives a browser
// and cannot be left unbounded.
const DefaultReviewTimeout = 20 * time.Minute

// DefaultResolveAttempts caps the test-failure resolution loop.
const DefaultResolveAttempts = 3

// StateStore is the slice of the state store the engine needs.
type StateStore interface {
	Create(initial state.RunState) (*state.RunState, error)
	Load(runID string) (*state.RunState, error)
	SaveSnapshot(runID, phaseMarker string, patch state.Patch) (*state.RunState, error)
	RunDir(runID string) string
}

// WorktreeOps is the worktree manager as seen by phases.
type WorktreeOps interface {
	Create(ctx context.Context, runID, branch string, wsPort, fePort int) (string, error)
	Validate(ctx context.Context, runID, statePath string) error
	Remove(ctx context.Context, runID string) error
}

// GitOps covers the in-worktree VCS actions phases perform.
type GitOps interface {
	Commit(ctx context.Context, dir, message string) (bool, error)
	Push(ctx context.Context, dir, branch string) error
}

// ForgeOps covers issue and pull-request actions.
type ForgeOps interface {
	FetchIssue(ctx context.Context, number string) (*forge.Issue, error)
	PostComment(ctx context.Context, number, body string) error
	PRCreate(ctx context.Context, branch, title, body string) (*forge.PullRequest, error)
	PRFindForBranch(ctx context.Context, branch string) (*forge.PullRequest, error)
	PREditBody(ctx context.Context, number int, body string) error
	PRApprove(ctx context.Context, number int) error
	PRMerge(ctx context.Context, number int) error
}

// AgentRunner executes one agent request through its retry schedule.
type AgentRunner interface {
	Execute(ctx context.Context, req agent.Request) (*agent.Response, error)
}

// PortAllocator hands out the run's port pair and takes it back when
// the run ends.
type PortAllocator interface {
	Allocate(runID string) (ports.Pair, error)
	Release(runID string)
}

// ArtifactUploader pushes review screenshots to object storage.
type ArtifactUploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

// Request carries the per-invocation inputs a phase accepts.
type Request struct {
	// RunID is required for dependent phases; entry phases generate one
	// when it is empty.
	RunID string

	// IssueNumber identifies the work item for entry phases.
	IssueNumber string

	// ModelSet selects the model table column for new runs.
	ModelSet string

	// BoardIssue, when set, marks the run board-sourced: forge writes
	// become no-ops and issue reads use this payload.
	BoardIssue *forge.Issue

	// TriggerReason is recorded in patch history entries.
	TriggerReason string

	// SkipE2E skips end-to-end checks in test and review.
	SkipE2E bool

	// SkipResolution disables the review blocker-resolution loop.
	SkipResolution bool
}

// Result is the outcome of one phase execution.
type Result struct {
	RunID   string
	Phase   string
	Success bool
	Message string
}

// Engine runs phases. One Engine serves many runs; per-run exclusivity
// is the composer's job.
type Engine struct {
	store    StateStore
	trees    WorktreeOps
	git      GitOps
	forge    ForgeOps
	agents   AgentRunner
	ports    PortAllocator
	uploader ArtifactUploader
	logs     *logstream.Stream
	pub      notify.Publisher
	logger   *slog.Logger

	reviewTimeout   time.Duration
	resolveAttempts int
}

// Option configures an Engine.
type Option func(*Engine)

// WithUploader enables screenshot uploads in the review phase.
func WithUploader(u ArtifactUploader) Option {
	return func(e *Engine) { e.uploader = u }
}

// WithPublisher attaches the broadcast publisher.
func WithPublisher(pub notify.Publisher) Option {
	return func(e *Engine) {
		if pub != nil {
			e.pub = pub
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithReviewTimeout overrides the review phase deadline.
func WithReviewTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.reviewTimeout = d
		}
	}
}

// WithResolveAttempts overrides the test resolution loop bound.
func WithResolveAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.resolveAttempts = n
		}
	}
}

// New creates an Engine.
func New(store StateStore, trees WorktreeOps, git GitOps, fg ForgeOps,
	agents AgentRunner, alloc PortAllocator, logs *logstream.Stream, opts ...Option) *Engine {
	e := &Engine{
		store:           store,
		trees:           trees,
		git:             git,
		forge:           fg,
		agents:          agents,
		ports:           alloc,
		logs:            logs,
		pub:             notify.NopPublisher{},
		logger:          slog.Default(),
		reviewTimeout:   DefaultReviewTimeout,
		resolveAttempts: DefaultResolveAttempts,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// status broadcasts a status_update and mirrors it into the log stream.
func (e *Engine) status(runID, phase, status string, progress int, step, message string) {
	e.pub.Publish(notify.NewMessage(notify.TypeStatusUpdate, notify.StatusUpdate{
		RunID:       runID,
		Phase:       phase,
		Status:      status,
		Progress:    progress,
		CurrentStep: step,
		Message:     message,
		Timestamp:   notify.Now(),
	}))
	if e.logs != nil && message != "" {
		level := notify.LevelInfo
		if status == notify.StatusFailed {
			level = notify.LevelError
		}
		e.logs.System(runID, phase, level, message)
	}
}

// finish records metrics, emits the terminal status_update, and builds
// the Result. err is logged but already carried in message.
func (e *Engine) finish(runID, phase string, started time.Time, err error) *Result {
	durationSeconds.WithLabelValues(phase).Observe(time.Since(started).Seconds())
	if err != nil {
		runsTotal.WithLabelValues(phase, "failed").Inc()
		e.status(runID, phase, notify.StatusFailed, 100, "", err.Error())
		e.logger.Error("phase failed", "run_id", runID, "phase", phase, "error", err)
		return &Result{RunID: runID, Phase: phase, Message: err.Error()}
	}
	runsTotal.WithLabelValues(phase, "completed").Inc()
	e.status(runID, phase, notify.StatusCompleted, 100, "", phase+" completed")
	e.logger.Info("phase completed", "run_id", runID, "phase", phase)
	return &Result{RunID: runID, Phase: phase, Success: true}
}

// requireWorktree loads state for a dependent phase and enforces the
// worktree invariants: path set, directory present, git agrees.
func (e *Engine) requireWorktree(ctx context.Context, runID string) (*state.RunState, error) {
	st, err := e.store.Load(runID)
	if err != nil {
		return nil, err
	}
	if st.WorktreePath == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoWorktree, runID)
	}
	if err := e.trees.Validate(ctx, runID, st.WorktreePath); err != nil {
		return nil, err
	}
	return st, nil
}

// agentRequest builds the common request shape for a phase's agent
// invocation. Output lands under <statestore>/<run>/<agent>/.
func (e *Engine) agentRequest(st *state.RunState, phase, agentName, slash string, args ...string) agent.Request {
	return agent.Request{
		AgentName:    agentName,
		SlashCommand: slash,
		Args:         args,
		WorkingDir:   st.WorktreePath,
		ModelSet:     st.ModelSet,
		RunID:        st.RunID,
		Phase:        phase,
		OutputFile:   filepath.Join(e.store.RunDir(st.RunID), agentName, "output.jsonl"),
	}
}

// runAgent executes req, folds the reported cost into state, and turns
// an unsuccessful response into an error carrying the retry code.
func (e *Engine) runAgent(ctx context.Context, req agent.Request) (*agent.Response, error) {
	resp, err := e.agents.Execute(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("run %s agent: %w", req.AgentName, err)
	}
	if resp.CostUSD != 0 {
		if _, err := e.store.SaveSnapshot(req.RunID, req.Phase, state.Patch{
			AddCostUSD: state.Ptr(resp.CostUSD),
		}); err != nil {
			e.logger.Warn("cost accounting update failed", "run_id", req.RunID, "error", err)
		}
	}
	if !resp.Success {
		return resp, fmt.Errorf("%w: %s %s (%s after %d attempt(s)): %s",
			ErrAgentFailed, req.AgentName, req.SlashCommand,
			resp.RetryCode, resp.Attempts, firstLine(resp.Output))
	}
	return resp, nil
}

// commitAndPush stages everything in the worktree, commits with a
// phase-tagged message, and pushes the run's branch. A clean tree is
// fine; push is skipped when nothing was committed and no upstream
// exists yet.
func (e *Engine) commitAndPush(ctx context.Context, st *state.RunState, message string) error {
	committed, err := e.git.Commit(ctx, st.WorktreePath, message)
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if !committed {
		e.logger.Debug("nothing to commit", "run_id", st.RunID)
	}
	if err := e.git.Push(ctx, st.WorktreePath, st.BranchName); err != nil {
		return fmt.Errorf("push %s: %w", st.BranchName, err)
	}
	return nil
}

// comment posts a progress comment on the run's issue. Failures are
// logged and swallowed; commentary must never fail a phase.
func (e *Engine) comment(ctx context.Context, st *state.RunState, body string) {
	if st.IssueNumber == "" {
		return
	}
	if err := e.forge.PostComment(ctx, st.IssueNumber, body); err != nil {
		e.logger.Warn("issue comment failed",
			"run_id", st.RunID, "issue", st.IssueNumber, "error", err)
	}
}

// classPrefix maps an issue class to its branch prefix.
func classPrefix(class string) string {
	switch class {
	case state.ClassBug:
		return "bug"
	case state.ClassChore:
		return "chore"
	default:
		return "feat"
	}
}

// branchName composes the run's branch:
// <prefix>-issue-<n>-run-<id>-<slug>.
func branchName(class, issueNumber, runID, slug string) string {
	return fmt.Sprintf("%s-issue-%s-run-%s-%s", classPrefix(class), issueNumber, runID, slugify(slug))
}

// planFilePath is the worktree-relative location of the generated plan.
func planFilePath(issueNumber, runID, slug string) string {
	return filepath.Join("specs", fmt.Sprintf("issue-%s-run-%s-%s.md", issueNumber, runID, slugify(slug)))
}

// slugify lowercases s and collapses anything outside [a-z0-9] into
// single dashes.
func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
