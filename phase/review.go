package phase

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/c360studio/adw/agent"
	"github.com/c360studio/adw/notify"
	"github.com/c360studio/adw/state"
)

// reviewVerdict is what the review agent reports as its final result.
// Free-form output that fails to parse counts as a pass with no
// blockers; the agent's own failure path is the retry code.
type reviewVerdict struct {
	Success  bool     `json:"success"`
	Blockers []string `json:"blockers"`
}

// Review runs the browser-driving review agent against the services on
// the run's allocated ports, uploads captured screenshots, attaches
// them to the pull request, and optionally loops a patch agent over
// reported blockers.
func (e *Engine) Review(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	e.status(req.RunID, PhaseReview, notify.StatusStarted, 0, "validate", "starting review")

	err := e.reviewBody(ctx, req)
	return e.finish(req.RunID, PhaseReview, started, err), err
}

func (e *Engine) reviewBody(ctx context.Context, req Request) error {
	st, err := e.requireWorktree(ctx, req.RunID)
	if err != nil {
		return err
	}

	var args []string
	if req.SkipE2E {
		args = append(args, "--skip-e2e")
	}

	verdict, err := e.runReviewAgent(ctx, st, args)
	if err != nil {
		return err
	}

	for attempt := 1; len(verdict.Blockers) > 0 && !req.SkipResolution; attempt++ {
		if attempt > e.resolveAttempts {
			return fmt.Errorf("review blockers remain after %d resolution attempt(s): %s",
				e.resolveAttempts, strings.Join(verdict.Blockers, "; "))
		}
		e.status(req.RunID, PhaseReview, notify.StatusRunning, 50, "resolve",
			fmt.Sprintf("resolving %d review blocker(s), attempt %d", len(verdict.Blockers), attempt))

		preq := e.agentRequest(st, PhaseReview, agentPatcher, agent.SlashPatch,
			strings.Join(verdict.Blockers, "\n"))
		if _, err := e.runAgent(ctx, preq); err != nil {
			return err
		}
		verdict, err = e.runReviewAgent(ctx, st, args)
		if err != nil {
			return err
		}
	}
	if len(verdict.Blockers) > 0 {
		e.logs.System(req.RunID, PhaseReview, notify.LevelWarn,
			fmt.Sprintf("review blockers left unresolved (resolution skipped): %s",
				strings.Join(verdict.Blockers, "; ")))
	}

	e.status(req.RunID, PhaseReview, notify.StatusRunning, 70, "screenshots", "collecting screenshots")
	links := e.collectScreenshots(ctx, st)
	if len(links) > 0 {
		e.attachToPullRequest(ctx, st, links)
	}

	e.status(req.RunID, PhaseReview, notify.StatusRunning, 90, "commit", "committing review artifacts")
	msg := fmt.Sprintf("review: capture review artifacts for issue %s (run %s)", st.IssueNumber, st.RunID)
	if err := e.commitAndPush(ctx, st, msg); err != nil {
		return err
	}
	e.comment(ctx, st, fmt.Sprintf("run %s: review complete, %d screenshot(s)", st.RunID, len(links)))
	return nil
}

// runReviewAgent invokes the review agent under the review deadline
// with the run's ports in the environment so the agent can start the
// services it drives.
func (e *Engine) runReviewAgent(ctx context.Context, st *state.RunState, args []string) (reviewVerdict, error) {
	rreq := e.agentRequest(st, PhaseReview, agentReviewer, agent.SlashReview, args...)
	rreq.Timeout = e.reviewTimeout
	rreq.ExtraEnv = []string{
		fmt.Sprintf("WS_PORT=%d", st.WSPort),
		fmt.Sprintf("FE_PORT=%d", st.FEPort),
		fmt.Sprintf("BACKEND_URL=http://localhost:%d", st.WSPort),
	}
	resp, err := e.runAgent(ctx, rreq)
	if err != nil {
		return reviewVerdict{}, err
	}
	return parseReviewVerdict(resp.Output), nil
}

// parseReviewVerdict decodes the agent's result. Non-JSON output means
// the agent narrated a pass.
func parseReviewVerdict(output string) reviewVerdict {
	var v reviewVerdict
	if err := json.Unmarshal([]byte(strings.TrimSpace(output)), &v); err != nil {
		return reviewVerdict{Success: true}
	}
	return v
}

// collectScreenshots globs the reviewer's image directory and uploads
// each capture. Upload failures keep the local path so the PR still
// references the artifact.
func (e *Engine) collectScreenshots(ctx context.Context, st *state.RunState) []string {
	imgDir := filepath.Join(e.store.RunDir(st.RunID), agentReviewer, "img")
	matches, err := doublestar.Glob(os.DirFS(imgDir), "**/*.{png,jpg,jpeg}")
	if err != nil {
		e.logger.Warn("screenshot glob failed", "run_id", st.RunID, "error", err)
		return nil
	}

	var links []string
	for _, rel := range matches {
		local := filepath.Join(imgDir, rel)
		if e.uploader == nil {
			links = append(links, local)
			continue
		}
		url, err := e.uploader.Upload(ctx, local)
		if err != nil {
			e.logger.Warn("screenshot upload failed, keeping local path",
				"run_id", st.RunID, "path", local, "error", err)
			links = append(links, local)
			continue
		}
		links = append(links, url)
	}
	return links
}

// attachToPullRequest appends a screenshot section to the run's PR
// body. Forge trouble here is logged, not fatal; the artifacts are
// still committed and linked in the issue comment.
func (e *Engine) attachToPullRequest(ctx context.Context, st *state.RunState, links []string) {
	pr, err := e.forge.PRFindForBranch(ctx, st.BranchName)
	if err != nil {
		e.logger.Warn("no pull request to attach screenshots to",
			"run_id", st.RunID, "branch", st.BranchName, "error", err)
		return
	}
	if pr.Number == 0 {
		return
	}
	var b strings.Builder
	b.WriteString("## Review screenshots\n\n")
	for _, link := range links {
		fmt.Fprintf(&b, "- %s\n", link)
	}
	if err := e.forge.PREditBody(ctx, pr.Number, b.String()); err != nil {
		e.logger.Warn("PR body update failed", "run_id", st.RunID, "pr", pr.Number, "error", err)
	}
}
