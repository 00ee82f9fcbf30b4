package phase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/c360studio/adw/notify"
	"github.com/c360studio/adw/state"
	"github.com/c360studio/adw/tools/forge"
)

// Ship finishes a run: verifies state completeness, approves and
// squash-merges the pull request (opening one first when the branch has
// none), removes the worktree, releases the port pair, and marks the
// run completed. Forge failures here are fatal; a half-shipped run is
// worse than a loud one.
func (e *Engine) Ship(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	e.status(req.RunID, PhaseShip, notify.StatusStarted, 0, "validate", "starting ship")

	err := e.shipBody(ctx, req)
	return e.finish(req.RunID, PhaseShip, started, err), err
}

func (e *Engine) shipBody(ctx context.Context, req Request) error {
	st, err := e.store.Load(req.RunID)
	if err != nil {
		return err
	}
	if missing := st.MissingShipFields(); len(missing) > 0 {
		return &ShipValidationError{RunID: req.RunID, Missing: missing}
	}
	if err := e.trees.Validate(ctx, req.RunID, st.WorktreePath); err != nil {
		return err
	}

	e.status(req.RunID, PhaseShip, notify.StatusRunning, 20, "pr", "locating pull request")
	pr, err := e.forge.PRFindForBranch(ctx, st.BranchName)
	if errors.Is(err, forge.ErrNoPullRequest) {
		e.status(req.RunID, PhaseShip, notify.StatusRunning, 30, "pr", "opening pull request")
		pr, err = e.forge.PRCreate(ctx, st.BranchName,
			fmt.Sprintf("%s: issue %s (run %s)", classPrefix(st.IssueClass), st.IssueNumber, st.RunID),
			fmt.Sprintf("Automated change for issue #%s. Plan: %s", st.IssueNumber, st.PlanFile))
		if err != nil {
			return fmt.Errorf("create PR for %s: %w", st.BranchName, err)
		}
	} else if err != nil {
		return fmt.Errorf("find PR for %s: %w", st.BranchName, err)
	}

	if pr.Number != 0 {
		e.status(req.RunID, PhaseShip, notify.StatusRunning, 40, "approve", "approving pull request")
		if err := e.forge.PRApprove(ctx, pr.Number); err != nil {
			return fmt.Errorf("approve PR #%d: %w", pr.Number, err)
		}
		e.status(req.RunID, PhaseShip, notify.StatusRunning, 60, "merge", "merging pull request")
		if err := e.forge.PRMerge(ctx, pr.Number); err != nil {
			return fmt.Errorf("merge PR #%d: %w", pr.Number, err)
		}
	}

	e.status(req.RunID, PhaseShip, notify.StatusRunning, 80, "cleanup", "removing worktree")
	if err := e.trees.Remove(ctx, req.RunID); err != nil {
		return fmt.Errorf("remove worktree: %w", err)
	}
	e.ports.Release(req.RunID)

	st, err = e.store.SaveSnapshot(req.RunID, PhaseShip, state.Patch{
		WorktreePath: state.Ptr(""),
		Completed:    state.Ptr(true),
	})
	if err != nil {
		return err
	}
	e.comment(ctx, st, fmt.Sprintf("run %s: shipped issue %s", st.RunID, st.IssueNumber))
	return nil
}
