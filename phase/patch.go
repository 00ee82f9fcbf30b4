package phase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/c360studio/adw/agent"
	"github.com/c360studio/adw/notify"
	"github.com/c360studio/adw/state"
)

// Patch is the second entry phase. Against a live run it applies a fix
// in the existing worktree; against a shipped or torn-down run it
// starts a fresh linked run with its own worktree and branch.
func (e *Engine) Patch(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	runID := req.RunID
	if runID == "" {
		runID = state.NewRunID()
	}
	e.status(runID, PhasePatch, notify.StatusStarted, 0, "setup", "starting patch")

	err := e.patchBody(ctx, runID, req)
	return e.finish(runID, PhasePatch, started, err), err
}

func (e *Engine) patchBody(ctx context.Context, runID string, req Request) error {
	st, err := e.store.Load(runID)
	switch {
	case err == nil && st.WorktreePath != "":
		// Live run: patch in place.
		if err := e.trees.Validate(ctx, runID, st.WorktreePath); err != nil {
			return err
		}
		return e.applyPatch(ctx, st, req)
	case err == nil:
		// The run exists but its worktree is gone (shipped or deleted).
		// Start a fresh linked run so the original record stays intact.
		linked := runID
		newID := state.NewRunID()
		e.logs.System(runID, PhasePatch, notify.LevelInfo,
			fmt.Sprintf("run %s has no worktree, patching in new run %s", runID, newID))
		if req.IssueNumber == "" {
			req.IssueNumber = st.IssueNumber
		}
		if req.ModelSet == "" {
			req.ModelSet = st.ModelSet
		}
		fresh, err := e.newPatchRun(ctx, newID, req)
		if err != nil {
			return err
		}
		if _, err := e.store.SaveSnapshot(linked, PhasePatch, state.Patch{
			LinkRun: state.Ptr(fresh.RunID),
		}); err != nil {
			e.logger.Warn("linking patch run failed", "run_id", linked, "patch_run", fresh.RunID, "error", err)
		}
		return e.applyPatch(ctx, fresh, req)
	case errors.Is(err, state.ErrNotFound):
		fresh, err := e.newPatchRun(ctx, runID, req)
		if err != nil {
			return err
		}
		return e.applyPatch(ctx, fresh, req)
	default:
		return err
	}
}

// newPatchRun creates state, ports, branch, and worktree for a
// standalone patch run. Patch runs classify as chores.
func (e *Engine) newPatchRun(ctx context.Context, runID string, req Request) (*state.RunState, error) {
	st, err := e.ensureRun(runID, PhasePatch, req)
	if err != nil {
		return nil, err
	}

	slug := slugify(req.TriggerReason)
	if slug == "" {
		slug = "patch"
	}
	branch := branchName(state.ClassChore, st.IssueNumber, runID, slug)

	e.status(runID, PhasePatch, notify.StatusRunning, 20, "worktree", "creating worktree on "+branch)
	treePath, err := e.trees.Create(ctx, runID, branch, st.WSPort, st.FEPort)
	if err != nil {
		return nil, err
	}
	return e.store.SaveSnapshot(runID, PhasePatch, state.Patch{
		IssueClass:   state.Ptr(state.ClassChore),
		BranchName:   state.Ptr(branch),
		WorktreePath: state.Ptr(treePath),
	})
}

// applyPatch runs the patch agent in st's worktree, records the patch
// in history, and commits the result.
func (e *Engine) applyPatch(ctx context.Context, st *state.RunState, req Request) error {
	reason := req.TriggerReason
	if reason == "" {
		reason = "manual patch request"
	}

	e.status(st.RunID, PhasePatch, notify.StatusRunning, 40, "patch", "running patch agent")
	preq := e.agentRequest(st, PhasePatch, agentPatcher, agent.SlashPatch, reason)
	if _, err := e.runAgent(ctx, preq); err != nil {
		return err
	}

	patchFile := fmt.Sprintf("specs/patch-run-%s-%d.md", st.RunID, len(st.PatchHistory)+1)
	st, err := e.store.SaveSnapshot(st.RunID, PhasePatch, state.Patch{
		PatchFile: state.Ptr(patchFile),
		AddPatch: state.Ptr(state.PatchRecord{
			PatchFile: patchFile,
			Reason:    reason,
			CreatedAt: notify.Now(),
		}),
	})
	if err != nil {
		return err
	}

	e.status(st.RunID, PhasePatch, notify.StatusRunning, 90, "commit", "committing patch")
	msg := fmt.Sprintf("chore: patch run %s (%s)", st.RunID, firstLine(reason))
	if err := e.commitAndPush(ctx, st, msg); err != nil {
		return err
	}
	e.comment(ctx, st, fmt.Sprintf("run %s: patch applied (%s)", st.RunID, firstLine(reason)))
	return nil
}
