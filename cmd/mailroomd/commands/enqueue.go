package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// EnqueueCmd queues an import run for a job.
var EnqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue an import run for a job",
	Long: `Queue an import run for a job.

Enqueue is idempotent: if the job already has an enqueued or running run,
that run is reported instead of creating a duplicate. The daemon's next
dispatch tick promotes the run once nothing else is running.`,
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

		run, created, err := runs.Enqueue(jobID)
		if err != nil {
			return err
		}

		if created {
			fmt.Printf("Enqueued run %s for job %s\n", run.ID, run.JobID)
		} else {
			fmt.Printf("Job %s already has an active run: %s (%s)\n", run.JobID, run.ID, run.Status)
		}
		return nil
	},
}

func init() {
	EnqueueCmd.Flags().String("job", "", "Job ID to import for (required)")
}
