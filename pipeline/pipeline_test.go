package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/adw/phase"
)

func TestLookup(t *testing.T) {
	p, err := Lookup("sdlc_zte")
	require.NoError(t, err)
	assert.True(t, p.Entry)
	assert.Equal(t, []string{
		phase.PhasePlan, phase.PhaseBuild, phase.PhaseTest,
		phase.PhaseReview, phase.PhaseDocument, phase.PhaseShip,
	}, p.Phases)

	_, err = Lookup("deploy")
	require.ErrorIs(t, err, ErrUnknownPipeline)
}

// The registry keys are the workflow_type values clients put on the
// wire; every one must resolve exactly as sent.
func TestLookupWireNames(t *testing.T) {
	for _, name := range []string{
		"plan", "patch", "build", "test", "review", "document", "ship",
		"plan_build", "plan_build_test", "plan_build_test_review",
		"sdlc", "sdlc_zte",
	} {
		p, err := Lookup(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, p.Name)
	}
}

func TestNamesCoversRegistry(t *testing.T) {
	names := Names()
	assert.Len(t, names, 12)
	assert.Contains(t, names, "plan")
	assert.Contains(t, names, "patch")
	assert.Contains(t, names, "sdlc")
}

func TestEntryGating(t *testing.T) {
	entries := map[string]bool{
		"plan": true, "patch": true, "plan_build": true,
		"plan_build_test": true, "plan_build_test_review": true,
		"sdlc": true, "sdlc_zte": true,
		"build": false, "test": false, "review": false,
		"document": false, "ship": false,
	}
	for name, wantEntry := range entries {
		p, err := Lookup(name)
		require.NoError(t, err)
		assert.Equal(t, wantEntry, p.Entry, name)
	}
}

// scriptedRunner lets tests drive Run without a real engine.
func scriptedRunner(calls *[]string, failAt string) *Runner {
	fn := func(name string) PhaseFunc {
		return func(_ context.Context, req phase.Request) (*phase.Result, error) {
			*calls = append(*calls, name+":"+req.RunID)
			runID := req.RunID
			if runID == "" {
				runID = "abc12345"
			}
			if name == failAt {
				return &phase.Result{RunID: runID, Phase: name}, errors.New(name + " blew up")
			}
			return &phase.Result{RunID: runID, Phase: name, Success: true}, nil
		}
	}
	return &Runner{phases: map[string]PhaseFunc{
		phase.PhasePlan:     fn(phase.PhasePlan),
		phase.PhaseBuild:    fn(phase.PhaseBuild),
		phase.PhaseTest:     fn(phase.PhaseTest),
		phase.PhaseReview:   fn(phase.PhaseReview),
		phase.PhaseDocument: fn(phase.PhaseDocument),
		phase.PhaseShip:     fn(phase.PhaseShip),
		phase.PhasePatch:    fn(phase.PhasePatch),
	}}
}

func TestRunChainsRunIDFromEntryPhase(t *testing.T) {
	var calls []string
	r := scriptedRunner(&calls, "")

	results, err := r.Run(context.Background(), "plan_build", phase.Request{IssueNumber: "42"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []string{"plan:", "build:abc12345"}, calls)
}

func TestRunStopsOnFailure(t *testing.T) {
	var calls []string
	r := scriptedRunner(&calls, phase.PhaseTest)

	results, err := r.Run(context.Background(), "sdlc", phase.Request{IssueNumber: "42"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped at test")
	require.Len(t, results, 3)
	assert.False(t, results[2].Success)
	// review and document never ran
	assert.Equal(t, []string{"plan:", "build:abc12345", "test:abc12345"}, calls)
}

func TestDependentPipelineRequiresRunID(t *testing.T) {
	var calls []string
	r := scriptedRunner(&calls, "")

	_, err := r.Run(context.Background(), "build", phase.Request{})
	require.ErrorIs(t, err, ErrRunIDRequired)
	assert.Empty(t, calls)

	results, err := r.Run(context.Background(), "build", phase.Request{RunID: "abc12345"})
	require.NoError(t, err)
	require.Len(t, results, 1)
}
