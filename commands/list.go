package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List runs in the state store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(nil)
			if err != nil {
				return err
			}
			runs, err := app.store.List()
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tISSUE\tCLASS\tBRANCH\tPORTS\tCOST\tSTATUS")
			for _, st := range runs {
				status := "active"
				switch {
				case st.Completed:
					status = "completed"
				case st.WorktreePath == "":
					status = "pending"
				}
				ports := "-"
				if st.HasPorts() {
					ports = fmt.Sprintf("%d/%d", st.WSPort, st.FEPort)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t$%.2f\t%s\n",
					st.RunID, orDash(st.IssueNumber), orDash(st.IssueClass),
					orDash(st.BranchName), ports, st.TotalCostUSD, status)
			}
			return w.Flush()
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
