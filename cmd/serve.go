package cmd

import (
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the scheduler, worker pool and HTTP API",
		Long: `Starts the periodic due-task scan, the worker pool that performs checks
and the operational HTTP API. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a App, _ *runtime) error {
				return a.Run(cmd.Context())
			})
		},
	}
}
