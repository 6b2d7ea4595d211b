package cli

import (
	"github.com/spf13/cobra"
)

var subsUser int64

var subsCmd = &cobra.Command{
	Use:   "subs",
	Short: "List active price watches",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListWatches(cmd.Context(), subsUser)
	},
}

func init() {
	subsCmd.Flags().Int64Var(&subsUser, "user", 0, "Limit the listing to one user (0 lists everyone)")
}
