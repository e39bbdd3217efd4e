package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rockmelodies/MonitorTask/internal/monitor"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <task-id>",
		Short: "Checks one task immediately and prints the outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || taskID <= 0 {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			return withApp(cmd.Context(), func(a App, _ *runtime) error {
				outcome, err := a.RunNow(cmd.Context(), taskID)
				if err != nil {
					return fmt.Errorf("check task %d: %w", taskID, err)
				}
				printOutcome(cmd, outcome)
				if outcome.Err != nil {
					return fmt.Errorf("check task %d: %s: %w", taskID, outcome.Result, outcome.Err)
				}
				return nil
			})
		},
	}
}

func printOutcome(cmd *cobra.Command, o monitor.CheckOutcome) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "task %d run %s: %s\n", o.TaskID, o.RunID, o.Result)
	if o.Change == nil {
		return
	}
	fmt.Fprintf(out, "change %d hash %s\n", o.Change.ID, o.Change.ContentHash)
	if len(o.Change.MatchedKeywords) > 0 {
		fmt.Fprintf(out, "matched: %v\n", o.Change.MatchedKeywords)
	}
	for _, n := range o.Notifications {
		fmt.Fprintf(out, "notify %s: %s", n.Channel, n.Status)
		if n.ErrorMessage != "" {
			fmt.Fprintf(out, " (%s)", n.ErrorMessage)
		}
		fmt.Fprintln(out)
	}
}
