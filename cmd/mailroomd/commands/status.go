package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// StatusCmd shows a run's status and progress.
var StatusCmd = &cobra.Command{
	Use:   "status RUN_ID",
	Short: "Show a run's status and progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		runs, items := buildStores(database)

		run, err := runs.GetRun(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Run:      %s\n", run.ID)
		fmt.Printf("Job:      %s\n", run.JobID)
		fmt.Printf("Status:   %s\n", run.Status)
		fmt.Printf("Progress: %.0f%% (%d/%d messages)\n",
			run.Progress*100, run.ProcessedMessages, run.TotalMessages)
		fmt.Printf("Created:  %s\n", run.CreatedAt.Format("2006-01-02 15:04:05"))
		if run.StartedAt != nil {
			fmt.Printf("Started:  %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
		}
		if run.FinishedAt != nil {
			fmt.Printf("Finished: %s\n", run.FinishedAt.Format("2006-01-02 15:04:05"))
		}
		if run.DurationMs != nil {
			fmt.Printf("Duration: %dms\n", *run.DurationMs)
		}
		if run.Error != "" {
			fmt.Printf("Error:    %s\n", run.Error)
		}

		counts, err := items.CountByRun(run.ID)
		if err != nil {
			return err
		}
		if counts.Total() > 0 {
			fmt.Printf("Items:    %d pending, %d processing, %d done, %d failed, %d canceled\n",
				counts.Pending, counts.Processing, counts.Done, counts.Failed, counts.Canceled)
		}

		if run.Summary != nil {
			s := run.Summary
			fmt.Printf("Summary:  %d discovered, %d done, %d failed, %d canceled, %d unprocessed\n",
				s.TotalDiscovered, s.Done, s.Failed, s.Canceled, s.Unprocessed)
			for _, f := range s.Failures {
				fmt.Printf("  failed %s at %s: %s\n", f.ExternalID, f.Step, f.Error)
			}
		}

		return nil
	},
}
