package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/c360studio/adw/phase"
	"github.com/c360studio/adw/pipeline"
	"github.com/c360studio/adw/state"
)

// newPipelineCommands builds one subcommand per registered pipeline.
// Entry pipelines take an issue number and an optional run_id;
// dependent pipelines require the run_id.
func newPipelineCommands() []*cobra.Command {
	var cmds []*cobra.Command
	for _, name := range pipeline.Names() {
		cmds = append(cmds, newPipelineCommand(name))
	}
	return cmds
}

func newPipelineCommand(name string) *cobra.Command {
	p, err := pipeline.Lookup(name)
	if err != nil {
		panic(err) // registry names come from the registry itself
	}

	var (
		modelSet       string
		skipE2E        bool
		skipResolution bool
		reason         string
	)

	use := name + " <issue> [run_id]"
	args := cobra.RangeArgs(1, 2)
	if !p.Entry {
		use = name + " <run_id>"
		args = cobra.ExactArgs(1)
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: "Run the " + name + " pipeline (" + strings.Join(p.Phases, " → ") + ")",
		Args:  args,
		RunE: func(cmd *cobra.Command, argv []string) error {
			req := phase.Request{
				ModelSet:       modelSet,
				SkipE2E:        skipE2E,
				SkipResolution: skipResolution,
				TriggerReason:  reason,
			}
			if p.Entry {
				req.IssueNumber = argv[0]
				if len(argv) == 2 {
					req.RunID = argv[1]
				}
			} else {
				req.RunID = argv[0]
			}
			if req.RunID != "" && !state.ValidRunID(req.RunID) {
				return &ExitError{Code: ExitUsage, Err: fmt.Errorf("invalid run_id %q", req.RunID)}
			}

			app, err := loadApp(nil)
			if err != nil {
				return err
			}
			results, err := app.runPipeline(cmd.Context(), name, req)
			return pipelineOutcome(cmd, results, err)
		},
	}

	cmd.Flags().StringVar(&modelSet, "model-set", "", "Model set for new runs (base, heavy)")
	if hasPhase(p, phase.PhaseTest) || hasPhase(p, phase.PhaseReview) {
		cmd.Flags().BoolVar(&skipE2E, "skip-e2e", false, "Skip end-to-end checks")
	}
	if hasPhase(p, phase.PhaseReview) {
		cmd.Flags().BoolVar(&skipResolution, "skip-resolution", false,
			"Report review blockers without attempting fixes")
	}
	if hasPhase(p, phase.PhasePatch) {
		cmd.Flags().StringVar(&reason, "reason", "", "Why this patch is needed")
	}
	return cmd
}

func hasPhase(p pipeline.Pipeline, name string) bool {
	for _, ph := range p.Phases {
		if ph == name {
			return true
		}
	}
	return false
}

// pipelineOutcome prints the per-phase summary and converts the error
// into the documented exit codes.
func pipelineOutcome(cmd *cobra.Command, results []*phase.Result, err error) error {
	for _, res := range results {
		status := "ok"
		if !res.Success {
			status = "failed"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-10s %-8s %s\n", res.Phase, status, res.RunID)
	}
	if err == nil {
		return nil
	}

	var shipErr *phase.ShipValidationError
	if errors.As(err, &shipErr) {
		return &ExitError{Code: ExitValidation, Err: err}
	}
	if errors.Is(err, pipeline.ErrUnknownPipeline) || errors.Is(err, pipeline.ErrRunIDRequired) {
		return &ExitError{Code: ExitUsage, Err: err}
	}
	return &ExitError{Code: ExitFailure, Err: err}
}
