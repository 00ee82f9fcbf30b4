package phase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/c360studio/adw/agent"
	"github.com/c360studio/adw/notify"
	"github.com/c360studio/adw/state"
	"github.com/c360studio/adw/tools/forge"
)

// Plan is the primary entry phase: it creates the run (state, ports,
// worktree, branch) and produces the plan file the build phase
// implements.
func (e *Engine) Plan(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	runID := req.RunID
	if runID == "" {
		runID = state.NewRunID()
	}
	e.status(runID, PhasePlan, notify.StatusStarted, 0, "setup", "planning issue "+req.IssueNumber)

	err := e.planBody(ctx, runID, req)
	return e.finish(runID, PhasePlan, started, err), err
}

func (e *Engine) planBody(ctx context.Context, runID string, req Request) error {
	st, err := e.ensureRun(runID, PhasePlan, req)
	if err != nil {
		return err
	}

	e.status(runID, PhasePlan, notify.StatusRunning, 10, "fetch_issue", "fetching issue "+st.IssueNumber)
	issue, err := e.forge.FetchIssue(ctx, st.IssueNumber)
	if err != nil {
		return fmt.Errorf("fetch issue %s: %w", st.IssueNumber, err)
	}
	issueJSON, err := json.Marshal(issue)
	if err != nil {
		return fmt.Errorf("marshal issue: %w", err)
	}
	e.comment(ctx, st, fmt.Sprintf("run %s: planning started", runID))

	e.status(runID, PhasePlan, notify.StatusRunning, 20, "classify", "classifying issue")
	class, err := e.classifyIssue(ctx, st, string(issueJSON))
	if err != nil {
		return err
	}

	e.status(runID, PhasePlan, notify.StatusRunning, 30, "branch", "generating branch name")
	slug, err := e.generateSlug(ctx, st, string(issueJSON), issue.Title)
	if err != nil {
		return err
	}
	branch := branchName(class, st.IssueNumber, runID, slug)

	e.status(runID, PhasePlan, notify.StatusRunning, 40, "worktree", "creating worktree on "+branch)
	treePath, err := e.trees.Create(ctx, runID, branch, st.WSPort, st.FEPort)
	if err != nil {
		return err
	}
	if e.logs != nil {
		e.logs.System(runID, PhasePlan, notify.LevelInfo, "worktree created at "+treePath)
	}

	st, err = e.store.SaveSnapshot(runID, PhasePlan, state.Patch{
		IssueClass:   state.Ptr(class),
		BranchName:   state.Ptr(branch),
		WorktreePath: state.Ptr(treePath),
	})
	if err != nil {
		return err
	}

	planFile := planFilePath(st.IssueNumber, runID, slug)
	e.status(runID, PhasePlan, notify.StatusRunning, 50, "plan", "running planning agent")
	planReq := e.agentRequest(st, PhasePlan, agentPlanner, agent.PlanCommandFor(class),
		st.IssueNumber, planFile)
	if _, err := e.runAgent(ctx, planReq); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(treePath, planFile)); err != nil {
		return fmt.Errorf("planning agent did not produce %s: %w", planFile, err)
	}

	st, err = e.store.SaveSnapshot(runID, PhasePlan, state.Patch{
		PlanFile: state.Ptr(planFile),
	})
	if err != nil {
		return err
	}

	e.status(runID, PhasePlan, notify.StatusRunning, 90, "commit", "committing plan")
	msg := fmt.Sprintf("plan: create spec for issue %s (run %s)", st.IssueNumber, runID)
	if err := e.commitAndPush(ctx, st, msg); err != nil {
		return err
	}
	e.comment(ctx, st, fmt.Sprintf("run %s: plan ready on branch `%s` (%s)", runID, branch, planFile))
	return nil
}

// ensureRun loads or creates the run's state and allocates its port
// pair. Idempotent for an existing run: a re-plan reuses state and
// ports.
func (e *Engine) ensureRun(runID, phase string, req Request) (*state.RunState, error) {
	st, err := e.store.Load(runID)
	switch {
	case err == nil:
		// Existing run; fall through to port allocation if needed.
	case errors.Is(err, state.ErrNotFound):
		initial := state.RunState{
			RunID:       runID,
			IssueNumber: req.IssueNumber,
			ModelSet:    req.ModelSet,
			DataSource:  state.SourceForge,
		}
		if req.BoardIssue != nil {
			initial.DataSource = state.SourceBoard
			initial.IssuePayload = issuePayload(req.BoardIssue)
			if initial.IssueNumber == "" {
				initial.IssueNumber = req.BoardIssue.Number
			}
		}
		st, err = e.store.Create(initial)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if st.HasPorts() {
		return st, nil
	}
	pair, err := e.ports.Allocate(runID)
	if err != nil {
		return nil, err
	}
	return e.store.SaveSnapshot(runID, phase, state.Patch{
		WSPort: state.Ptr(pair.WS),
		FEPort: state.Ptr(pair.FE),
	})
}

// classifyIssue runs the classification agent and normalizes its
// answer to one of the issue classes.
func (e *Engine) classifyIssue(ctx context.Context, st *state.RunState, issueJSON string) (string, error) {
	creq := e.agentRequest(st, PhasePlan, agentPlanner, agent.SlashClassifyIssue, issueJSON)
	creq.OutputFile = filepath.Join(e.store.RunDir(st.RunID), agentPlanner, "classify.jsonl")
	resp, err := e.runAgent(ctx, creq)
	if err != nil {
		return "", err
	}
	return parseIssueClass(resp.Output), nil
}

// generateSlug runs the branch-name agent; an empty answer falls back
// to the issue title.
func (e *Engine) generateSlug(ctx context.Context, st *state.RunState, issueJSON, title string) (string, error) {
	breq := e.agentRequest(st, PhasePlan, agentPlanner, agent.SlashGenerateBranch, issueJSON)
	breq.OutputFile = filepath.Join(e.store.RunDir(st.RunID), agentPlanner, "branch.jsonl")
	resp, err := e.runAgent(ctx, breq)
	if err != nil {
		return "", err
	}
	slug := slugify(firstLine(resp.Output))
	if slug == "" {
		slug = slugify(title)
	}
	if slug == "" {
		slug = "change"
	}
	return slug, nil
}

// parseIssueClass extracts the classification from agent output,
// defaulting to feature when the answer is ambiguous.
func parseIssueClass(output string) string {
	answer := strings.ToLower(firstLine(output))
	for _, class := range []string{state.ClassBug, state.ClassChore, state.ClassFeature} {
		if answer == class {
			return class
		}
	}
	for _, class := range []string{state.ClassBug, state.ClassChore, state.ClassFeature} {
		if strings.Contains(answer, class) {
			return class
		}
	}
	return state.ClassFeature
}

// issuePayload flattens a board issue into the state payload object.
func issuePayload(issue *forge.Issue) map[string]any {
	raw, err := json.Marshal(issue)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
