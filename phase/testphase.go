package phase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/c360studio/adw/agent"
	"github.com/c360studio/adw/notify"
)

// Test runs the test agent in the worktree. Agent-reported test
// failures feed a resolution loop: the resolver agent gets the failure
// report and the tests run again, up to the configured attempt bound.
func (e *Engine) Test(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	e.status(req.RunID, PhaseTest, notify.StatusStarted, 0, "validate", "starting tests")

	err := e.testBody(ctx, req)
	return e.finish(req.RunID, PhaseTest, started, err), err
}

func (e *Engine) testBody(ctx context.Context, req Request) error {
	st, err := e.requireWorktree(ctx, req.RunID)
	if err != nil {
		return err
	}

	args := []string{}
	if req.SkipE2E {
		args = append(args, "--skip-e2e")
	}

	var lastErr error
	for attempt := 0; attempt <= e.resolveAttempts; attempt++ {
		progress := 20 + attempt*20
		if progress > 80 {
			progress = 80
		}
		e.status(req.RunID, PhaseTest, notify.StatusRunning, progress, "test", "running test agent")

		treq := e.agentRequest(st, PhaseTest, agentTester, agent.SlashTest, args...)
		resp, err := e.runAgent(ctx, treq)
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err

		// Only failures the agent itself reported are worth a resolve
		// pass; CLI and timeout failures already exhausted their retries.
		if resp == nil || resp.RetryCode != agent.RetryAgentReported || attempt == e.resolveAttempts {
			return lastErr
		}

		e.logs.System(req.RunID, PhaseTest, notify.LevelWarn,
			fmt.Sprintf("tests failed, resolution attempt %d/%d", attempt+1, e.resolveAttempts))
		rreq := e.agentRequest(st, PhaseTest, agentTester, agent.SlashResolveTests, firstLine(resp.Output))
		if _, err := e.runAgent(ctx, rreq); err != nil {
			return errors.Join(lastErr, err)
		}
	}
	if lastErr != nil {
		return lastErr
	}

	e.status(req.RunID, PhaseTest, notify.StatusRunning, 90, "commit", "committing test artifacts")
	msg := fmt.Sprintf("test: validate issue %s (run %s)", st.IssueNumber, st.RunID)
	if err := e.commitAndPush(ctx, st, msg); err != nil {
		return err
	}
	e.comment(ctx, st, fmt.Sprintf("run %s: tests passing", st.RunID))
	return nil
}
