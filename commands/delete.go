package commands

import (
	"github.com/spf13/cobra"
)

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run_id>",
		Short: "Tear down a run: processes, worktree, logs, and state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(nil)
			if err != nil {
				return err
			}
			return app.deleteRun(cmd.Context(), args[0])
		},
	}
}
