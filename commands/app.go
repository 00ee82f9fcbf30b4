// Package commands provides the cobra command surface: one command
// per pipeline, per-phase shortcuts, the hub server, and run
// management utilities.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/adw/agent"
	"github.com/c360studio/adw/config"
	"github.com/c360studio/adw/hub"
	"github.com/c360studio/adw/logstream"
	"github.com/c360studio/adw/notify"
	"github.com/c360studio/adw/phase"
	"github.com/c360studio/adw/pipeline"
	"github.com/c360studio/adw/ports"
	"github.com/c360studio/adw/state"
	"github.com/c360studio/adw/tools"
	"github.com/c360studio/adw/tools/forge"
	"github.com/c360studio/adw/tools/git"
	"github.com/c360studio/adw/uploader"
	"github.com/c360studio/adw/worktree"
)

var registerMetricsOnce sync.Once

// registerMetrics puts every package's collectors on the default
// registry so the hub's /metrics endpoint serves them.
func registerMetrics() {
	registerMetricsOnce.Do(func() {
		var collectors []prometheus.Collector
		collectors = append(collectors, hub.Metrics()...)
		collectors = append(collectors, phase.Metrics()...)
		collectors = append(collectors, agent.RetryMetrics()...)
		prometheus.MustRegister(collectors...)
	})
}

// App wires the orchestrator's components from configuration. One App
// serves the whole process; engines are built per run because board
// mode binds the forge shim to an inline issue.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	pub    notify.Publisher

	store  *state.Store
	logs   *logstream.Stream
	trees  *worktree.Manager
	git    *git.Executor
	alloc  *ports.Allocator
	agents *agent.Runner
}

// NewApp builds the component graph. pub receives every broadcast;
// pass notify.NopPublisher{} for hubless CLI runs.
func NewApp(cfg *config.Config, logger *slog.Logger, pub notify.Publisher) (*App, error) {
	registerMetrics()
	if pub == nil {
		pub = notify.NopPublisher{}
	}

	store, err := state.NewStore(cfg.StateStoreDir(),
		state.WithLogger(logger), state.WithPublisher(pub))
	if err != nil {
		return nil, fmt.Errorf("state store: %w", err)
	}
	logs := logstream.New(logstream.WithPublisher(pub))

	gitExec := git.NewExecutor(cfg.Repo.Path, nil)
	trees := worktree.NewManager(cfg.TreesDir(), cfg.Repo.Path, gitExec,
		worktree.WithBaseBranch(cfg.Repo.BaseBranch),
		worktree.WithEnvFiles(cfg.Workflow.EnvFiles...),
		worktree.WithLogger(logger))

	agents := agent.NewRunner(cfg.Agent.CLIPath, cfg.Repo.Path, logs,
		agent.WithLogger(logger))

	return &App{
		cfg:    cfg,
		logger: logger,
		pub:    pub,
		store:  store,
		logs:   logs,
		trees:  trees,
		git:    gitExec,
		alloc:  ports.New(ports.WithSlots(cfg.Workflow.MaxRuns), ports.WithLogger(logger)),
		agents: agents,
	}, nil
}

// engine builds a phase engine, binding the forge shim to boardIssue
// when the run is board-sourced.
func (a *App) engine(boardIssue *forge.Issue) *phase.Engine {
	var forgeOpts []forge.Option
	if boardIssue != nil {
		forgeOpts = append(forgeOpts, forge.WithBoardIssue(boardIssue))
	}
	forgeOpts = append(forgeOpts, forge.WithLogger(a.logger))
	fg := forge.NewExecutor(a.cfg.Repo.Path, a.cfg.Forge.RepoURL, &tools.ExecRunner{}, forgeOpts...)

	opts := []phase.Option{
		phase.WithPublisher(a.pub),
		phase.WithLogger(a.logger),
		phase.WithReviewTimeout(a.cfg.Workflow.ReviewTimeout),
		phase.WithResolveAttempts(a.cfg.Workflow.ResolveAttempts),
	}
	if a.cfg.Uploader.BaseURL != "" {
		opts = append(opts, phase.WithUploader(uploader.New(a.cfg.Uploader.BaseURL)))
	}
	return phase.New(a.store, a.trees, a.git, fg, a.agents, a.alloc, a.logs, opts...)
}

// runPipeline executes a named pipeline to completion.
func (a *App) runPipeline(ctx context.Context, name string, req phase.Request) ([]*phase.Result, error) {
	return pipeline.NewRunner(a.engine(req.BoardIssue)).Run(ctx, name, req)
}

// deleteRun fully tears a run down: kills its child processes, removes
// the worktree, drops logs, and deletes state. Used by the delete
// command and the hub's delete_adw control message.
func (a *App) deleteRun(ctx context.Context, runID string) error {
	if !state.ValidRunID(runID) {
		return fmt.Errorf("invalid run_id %q", runID)
	}
	if live := a.agents.Processes().Live(runID); live > 0 {
		a.logger.Info("killing run processes", "run_id", runID, "count", live)
	}
	a.agents.Processes().KillRun(runID)
	if err := a.trees.Remove(ctx, runID); err != nil {
		return err
	}
	a.alloc.Release(runID)
	a.logs.Drop(runID)
	if err := a.store.Delete(runID); err != nil {
		return err
	}
	a.logger.Info("run deleted", "run_id", runID)
	return nil
}
