package phase

import (
	"context"
	"fmt"
	"time"

	"github.com/c360studio/adw/agent"
	"github.com/c360studio/adw/notify"
)

// Document generates feature documentation in the worktree's docs tree
// and commits it.
func (e *Engine) Document(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	e.status(req.RunID, PhaseDocument, notify.StatusStarted, 0, "validate", "starting documentation")

	err := e.documentBody(ctx, req)
	return e.finish(req.RunID, PhaseDocument, started, err), err
}

func (e *Engine) documentBody(ctx context.Context, req Request) error {
	st, err := e.requireWorktree(ctx, req.RunID)
	if err != nil {
		return err
	}

	e.status(req.RunID, PhaseDocument, notify.StatusRunning, 20, "document", "running documentation agent")
	dreq := e.agentRequest(st, PhaseDocument, agentDocumenter, agent.SlashDocument, st.PlanFile)
	if _, err := e.runAgent(ctx, dreq); err != nil {
		return err
	}

	e.status(req.RunID, PhaseDocument, notify.StatusRunning, 90, "commit", "committing documentation")
	msg := fmt.Sprintf("docs: document issue %s (run %s)", st.IssueNumber, st.RunID)
	if err := e.commitAndPush(ctx, st, msg); err != nil {
		return err
	}
	return nil
}
