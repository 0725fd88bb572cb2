package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/imedwei/offsite-vault/internal/app"
	"github.com/imedwei/offsite-vault/internal/replication"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last delivery report and pending retries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		report, contexts, err := a.Status(ctx)
		switch {
		case errors.Is(err, app.ErrNoStatus):
			fmt.Fprintln(out, "No upload recorded yet")
		case err != nil:
			return err
		default:
			printReport(out, report)
		}

		if len(contexts) > 0 {
			fmt.Fprintln(out, "Pending retries:")
			for _, rc := range contexts {
				fmt.Fprintf(out, "  %s %s regions=%s since %s\n",
					rc.VersionID, rc.ObjectKey, strings.Join(rc.PendingRegions, ","), rc.CreatedAt.Format("2006-01-02 15:04:05"))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func printReport(w io.Writer, r *replication.DeliveryReport) {
	fmt.Fprintf(w, "Version:  %s\n", r.VersionID)
	fmt.Fprintf(w, "Object:   %s\n", r.ObjectKey)
	fmt.Fprintf(w, "Status:   %s (%d of %d copies)\n", r.Status, r.AvailableCopies, r.ExpectedCopies)
	fmt.Fprintf(w, "Duration: %s\n", r.Duration())

	regions := append([]string(nil), r.Regions...)
	if len(regions) == 0 {
		for region := range r.Outcomes {
			regions = append(regions, region)
		}
		sort.Strings(regions)
	}
	for _, region := range regions {
		o := r.Outcomes[region]
		line := fmt.Sprintf("  %-16s %s", region, o.Status)
		if o.LatencyMs != nil {
			line += fmt.Sprintf(" %dms", *o.LatencyMs)
		}
		if o.Message != "" {
			line += " " + o.Message
		}
		fmt.Fprintln(w, line)
	}
	if len(r.PendingRegions) > 0 {
		fmt.Fprintf(w, "Resume with: vault upload --resume %s <file>\n", r.VersionID)
	}
}
