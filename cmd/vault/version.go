package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imedwei/offsite-vault/internal/telemetry"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "offsite-vault %s\n", telemetry.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
