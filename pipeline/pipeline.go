// Package pipeline composes phases into named workflows. A pipeline is
// a serial phase list; entry pipelines start with a phase that creates
// the run, dependent pipelines require an existing run with a live
// worktree. Execution stops on the first failed phase.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/c360studio/adw/phase"
)

// ErrUnknownPipeline is returned for a workflow_type no registry entry
// matches.
var ErrUnknownPipeline = errors.New("unknown pipeline")

// ErrRunIDRequired is returned when a dependent pipeline is invoked
// without a run.
var ErrRunIDRequired = errors.New("pipeline requires a run_id")

// Pipeline is one registered workflow.
type Pipeline struct {
	// Name is the registry key and the workflow_type on the wire.
	Name string

	// Phases execute serially, stopping on the first failure.
	Phases []string

	// Entry pipelines create the run; dependent ones reuse it.
	Entry bool
}

// registry holds every composable workflow. Names are the wire-level
// workflow_type values; CLI subcommands use them verbatim.
var registry = map[string]Pipeline{
	"plan":     {Name: "plan", Phases: []string{phase.PhasePlan}, Entry: true},
	"patch":    {Name: "patch", Phases: []string{phase.PhasePatch}, Entry: true},
	"build":    {Name: "build", Phases: []string{phase.PhaseBuild}},
	"test":     {Name: "test", Phases: []string{phase.PhaseTest}},
	"review":   {Name: "review", Phases: []string{phase.PhaseReview}},
	"document": {Name: "document", Phases: []string{phase.PhaseDocument}},
	"ship":     {Name: "ship", Phases: []string{phase.PhaseShip}},
	"plan_build": {
		Name:   "plan_build",
		Phases: []string{phase.PhasePlan, phase.PhaseBuild},
		Entry:  true,
	},
	"plan_build_test": {
		Name:   "plan_build_test",
		Phases: []string{phase.PhasePlan, phase.PhaseBuild, phase.PhaseTest},
		Entry:  true,
	},
	"plan_build_test_review": {
		Name:   "plan_build_test_review",
		Phases: []string{phase.PhasePlan, phase.PhaseBuild, phase.PhaseTest, phase.PhaseReview},
		Entry:  true,
	},
	"sdlc": {
		Name: "sdlc",
		Phases: []string{
			phase.PhasePlan, phase.PhaseBuild, phase.PhaseTest,
			phase.PhaseReview, phase.PhaseDocument,
		},
		Entry: true,
	},
	"sdlc_zte": {
		Name: "sdlc_zte",
		Phases: []string{
			phase.PhasePlan, phase.PhaseBuild, phase.PhaseTest,
			phase.PhaseReview, phase.PhaseDocument, phase.PhaseShip,
		},
		Entry: true,
	},
}

// Lookup resolves a pipeline by name.
func Lookup(name string) (Pipeline, error) {
	p, ok := registry[name]
	if !ok {
		return Pipeline{}, fmt.Errorf("%w: %s", ErrUnknownPipeline, name)
	}
	return p, nil
}

// Names lists registered pipelines, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PhaseFunc is one phase as the composer invokes it.
type PhaseFunc func(ctx context.Context, req phase.Request) (*phase.Result, error)

// Runner binds an engine's phases into an executable table.
type Runner struct {
	phases map[string]PhaseFunc
}

// NewRunner builds the phase table from an engine.
func NewRunner(e *phase.Engine) *Runner {
	return &Runner{phases: map[string]PhaseFunc{
		phase.PhasePlan:     e.Plan,
		phase.PhaseBuild:    e.Build,
		phase.PhaseTest:     e.Test,
		phase.PhaseReview:   e.Review,
		phase.PhaseDocument: e.Document,
		phase.PhaseShip:     e.Ship,
		phase.PhasePatch:    e.Patch,
	}}
}

// Run executes the named pipeline. The entry phase sets req.RunID for
// every following phase; dependent pipelines must arrive with it set.
// The first failed phase stops the walk and its error is returned with
// the partial results.
func (r *Runner) Run(ctx context.Context, name string, req phase.Request) ([]*phase.Result, error) {
	p, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	if !p.Entry && req.RunID == "" {
		return nil, fmt.Errorf("%w: %s", ErrRunIDRequired, name)
	}

	var results []*phase.Result
	for _, phaseName := range p.Phases {
		fn, ok := r.phases[phaseName]
		if !ok {
			return results, fmt.Errorf("pipeline %s references unknown phase %s", name, phaseName)
		}
		res, err := fn(ctx, req)
		if res != nil {
			results = append(results, res)
			// The entry phase allocates the run; chain it forward.
			if req.RunID == "" {
				req.RunID = res.RunID
			}
		}
		if err != nil {
			return results, fmt.Errorf("pipeline %s stopped at %s: %w", name, phaseName, err)
		}
	}
	return results, nil
}
