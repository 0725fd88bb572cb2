package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/imedwei/offsite-vault/internal/utils"
)

var listRegion string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List archives stored in a region",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.List(ctx, listRegion)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tSIZE\tTIME\tREGION")
		for _, rec := range records {
			ts := "-"
			if rec.Timestamp > 0 {
				ts = rec.Time().Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", rec.Key, utils.FormatBytes(rec.Size), ts, rec.Region)
		}
		return w.Flush()
	},
}

func init() {
	listCmd.Flags().StringVar(&listRegion, "region", "", "region to list (default: primary)")
	rootCmd.AddCommand(listCmd)
}
