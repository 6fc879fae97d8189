package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hireloop/mailroom/imports"
)

// RunsCmd lists runs for a job.
var RunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List runs for a job",
	RunE: func(cmd *cobra.Command, args []string) error {
		jobID, _ := cmd.Flags().GetString("job")
		if jobID == "" {
			return fmt.Errorf("--job is required")
		}
		statusFilter, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		var status *imports.RunStatus
		if statusFilter != "" {
			if !imports.IsValidRunStatus(statusFilter) {
				return fmt.Errorf("invalid status %q", statusFilter)
			}
			s := imports.RunStatus(statusFilter)
			status = &s
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

		list, err := runs.ListRuns(jobID, status, limit)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Printf("No runs for job %s\n", jobID)
			return nil
		}

		fmt.Printf("%-42s %-10s %8s %10s %s\n", "RUN", "STATUS", "PROGRESS", "MESSAGES", "CREATED")
		for _, run := range list {
			fmt.Printf("%-42s %-10s %7.0f%% %4d/%-5d %s\n",
				run.ID, run.Status, run.Progress*100,
				run.ProcessedMessages, run.TotalMessages,
				run.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	RunsCmd.Flags().String("job", "", "Job ID to list runs for (required)")
	RunsCmd.Flags().String("status", "", "Filter by run status")
	RunsCmd.Flags().Int("limit", 20, "Maximum runs to list")
}
