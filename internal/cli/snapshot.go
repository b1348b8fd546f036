package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"market-alerts/internal/app"
)

var (
	snapshotTop int
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Fetch tracked instruments once and print them ranked by 24h move",
	RunE: func(cmd *cobra.Command, args []string) error {
		if snapshotTop < 0 {
			return fmt.Errorf("--top must not be negative")
		}
		return getApp().Snapshot(cmd.Context(), cmd.OutOrStdout(), app.SnapshotOptions{Top: snapshotTop})
	},
}

func init() {
	snapshotCmd.Flags().IntVar(&snapshotTop, "top", 0, "Only print the N largest movers (0 prints all)")
}
