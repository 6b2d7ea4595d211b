package cli

import (
	"github.com/spf13/cobra"
)

var cycleJob string

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run a single job cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RunJob(cmd.Context(), cycleJob)
	},
}

func init() {
	cycleCmd.Flags().StringVar(&cycleJob, "job", "price-check", "Job to run: price-check, analytics, or retention")
}
