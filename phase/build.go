package phase

import (
	"context"
	"fmt"
	"time"

	"github.com/c360studio/adw/agent"
	"github.com/c360studio/adw/notify"
)

// Build implements the plan: it runs the implementation agent in the
// run's worktree and commits whatever it produced.
func (e *Engine) Build(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	e.status(req.RunID, PhaseBuild, notify.StatusStarted, 0, "validate", "starting build")

	err := e.buildBody(ctx, req)
	return e.finish(req.RunID, PhaseBuild, started, err), err
}

func (e *Engine) buildBody(ctx context.Context, req Request) error {
	st, err := e.requireWorktree(ctx, req.RunID)
	if err != nil {
		return err
	}
	if st.PlanFile == "" {
		return fmt.Errorf("run %s has no plan file; run plan first", req.RunID)
	}

	e.comment(ctx, st, fmt.Sprintf("run %s: implementation started", st.RunID))
	e.status(req.RunID, PhaseBuild, notify.StatusRunning, 20, "implement", "running implementation agent")
	ireq := e.agentRequest(st, PhaseBuild, agentImplementor, agent.SlashImplement, st.PlanFile)
	if _, err := e.runAgent(ctx, ireq); err != nil {
		return err
	}

	e.status(req.RunID, PhaseBuild, notify.StatusRunning, 90, "commit", "committing implementation")
	msg := fmt.Sprintf("%s: implement issue %s (run %s)",
		classPrefix(st.IssueClass), st.IssueNumber, st.RunID)
	if err := e.commitAndPush(ctx, st, msg); err != nil {
		return err
	}
	e.comment(ctx, st, fmt.Sprintf("run %s: implementation pushed to `%s`", st.RunID, st.BranchName))
	return nil
}
