package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	uploadTaskID string
	uploadResume string
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload an archive to every target",
	Long: `Upload reads the archive and stores one copy per configured target.
Regions that fail are remembered; rerun with --resume <version-id> to retry
only those regions.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()

		if uploadResume != "" {
			report, err := a.Resume(ctx, uploadResume, args[0])
			if report != nil {
				printReport(out, report)
			}
			return err
		}

		res, err := a.UploadFile(ctx, args[0], uploadTaskID)
		if res != nil && res.Report != nil {
			printReport(out, res.Report)
		}
		if err != nil {
			return err
		}
		if res.Skipped {
			fmt.Fprintf(out, "Upload skipped: %s\n", res.Reason)
		}
		return nil
	},
}

func init() {
	uploadCmd.Flags().StringVar(&uploadTaskID, "task-id", "", "task identifier recorded with the upload")
	uploadCmd.Flags().StringVar(&uploadResume, "resume", "", "retry the pending regions of this version id")
	rootCmd.AddCommand(uploadCmd)
}
