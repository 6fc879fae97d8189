package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hireloop/mailroom/cmd/mailroomd/commands"
	"github.com/hireloop/mailroom/logger"
)

var rootCmd = &cobra.Command{
	Use:   "mailroomd",
	Short: "mailroom - recruiting email import orchestrator",
	Long: `mailroom - email import orchestration for the recruiting pipeline.

Imports run as short, resumable slices coordinated entirely through
database invariants: at most one run executes at a time, one active run
per job, and every per-message step is persisted so no work is lost to a
crash or timeout.

Available commands:
  serve    - Run the import daemon (dispatcher tick + reaper)
  enqueue  - Queue an import run for a job
  cancel   - Cancel a job's active run
  status   - Show a run's status and progress
  runs     - List runs for a job

Examples:
  mailroomd serve                  # Run the daemon in foreground
  mailroomd enqueue --job job-42   # Queue an import for job-42
  mailroomd status RUN_<id>        # Inspect a run`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		if err := logger.Initialize(false, verbose); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("config", "", "Path to config file")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.EnqueueCmd)
	rootCmd.AddCommand(commands.CancelCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.RunsCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
