package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360studio/adw/hub"
	"github.com/c360studio/adw/notify"
	"github.com/c360studio/adw/phase"
	"github.com/c360studio/adw/pipeline"
	"github.com/c360studio/adw/state"
	"github.com/c360studio/adw/tools/forge"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket hub and accept workflow triggers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h := hub.New()
			app, err := loadApp(h)
			if err != nil {
				return err
			}
			h.Configure(
				hub.WithLogger(app.logger),
				hub.WithTrigger(app.triggerWorkflow),
				hub.WithDelete(app.deleteAndAnnounce),
			)

			addr := fmt.Sprintf(":%d", app.cfg.Hub.Port)
			srv := &http.Server{Addr: addr, Handler: h.Handler()}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			app.logger.Info("hub listening", "addr", addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			app.logger.Info("hub stopped")
			return nil
		},
	}
}

// triggerWorkflow is the hub callback: it validates the request
// against the run inventory, reserves a run ID, and spawns the
// pipeline in the background.
func (a *App) triggerWorkflow(ctx context.Context, treq notify.TriggerRequest) (string, error) {
	p, err := pipeline.Lookup(treq.WorkflowType)
	if err != nil {
		return "", err
	}

	req := phase.Request{
		RunID:         treq.RunID,
		IssueNumber:   treq.IssueNumber,
		ModelSet:      treq.ModelSet,
		TriggerReason: treq.TriggerReason,
	}
	if len(treq.BoardData) > 0 {
		var issue forge.Issue
		if err := json.Unmarshal(treq.BoardData, &issue); err != nil {
			return "", fmt.Errorf("decode board_data: %w", err)
		}
		req.BoardIssue = &issue
	}

	if p.Entry {
		if req.RunID == "" {
			req.RunID = state.NewRunID()
		}
	} else {
		// Dependent pipelines need an existing run with a live worktree.
		st, err := a.store.Load(req.RunID)
		if err != nil {
			return "", err
		}
		if st.WorktreePath == "" {
			return "", fmt.Errorf("%w: %s", phase.ErrNoWorktree, req.RunID)
		}
	}

	// The trigger response returns immediately; the pipeline runs to
	// completion or failure regardless of the session's fate.
	go func() {
		if _, err := a.runPipeline(context.Background(), p.Name, req); err != nil {
			a.logger.Error("triggered pipeline failed",
				"workflow_type", p.Name, "run_id", req.RunID, "error", err)
		}
	}()
	return req.RunID, nil
}

// deleteAndAnnounce adapts deleteRun to the hub's delete callback.
func (a *App) deleteAndAnnounce(ctx context.Context, runID string) error {
	return a.deleteRun(ctx, runID)
}
