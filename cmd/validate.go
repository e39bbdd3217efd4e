package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Loads and validates the configuration, then lists the seeded tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok: store=%s snapshot=%s publish=%s\n",
				rt.cfg.Store.Driver, rt.cfg.Snapshot.Driver, rt.cfg.Publish.Driver)
			for _, t := range rt.cfg.MonitorTasks() {
				fmt.Fprintf(out, "task %q %s every %ds priority=%s active=%t webhooks=%d\n",
					t.Name, t.URL, t.CheckInterval, t.Priority, t.Active, len(t.Webhooks))
			}
			return nil
		},
	}
}
