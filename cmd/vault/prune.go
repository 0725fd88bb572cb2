package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pruneRegion string

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete archives outside the retention policy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.Prune(ctx, pruneRegion)
		out := cmd.OutOrStdout()
		for _, res := range results {
			fmt.Fprintf(out, "%s: listed %d, deleted %d, immutable %d, errors %d\n",
				res.Region, res.Listed, len(res.Deleted), len(res.Exempt), len(res.Errors))
			for _, rec := range res.Deleted {
				fmt.Fprintf(out, "  deleted %s\n", rec.Key)
			}
		}
		return err
	},
}

func init() {
	pruneCmd.Flags().StringVar(&pruneRegion, "region", "", "prune a single region (default: all)")
	rootCmd.AddCommand(pruneCmd)
}
