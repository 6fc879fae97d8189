package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// CancelCmd cancels a job's active run.
var CancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel a job's active run",
	Long: `Cancel a job's active run.

An enqueued run is finalized immediately. A running run is only flagged;
the slice processor observes the flag between batches and finalizes it
promptly, leaving mid-flight items in their current state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		jobID, _ := cmd.Flags().GetString("job")
		if jobID == "" {
			return fmt.Errorf("--job is required")
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		runs, _ := buildStores(database)

		run, canceled, err := runs.CancelActiveForJob(jobID)
		if err != nil {
			return err
		}
		if run == nil {
			fmt.Printf("Job %s has no active run\n", jobID)
			return nil
		}
		if !canceled {
			fmt.Printf("Run %s was already past cancellation\n", run.ID)
			return nil
		}

		fmt.Printf("Canceled run %s for job %s\n", run.ID, jobID)
		return nil
	},
}

func init() {
	CancelCmd.Flags().String("job", "", "Job ID whose active run to cancel (required)")
}
