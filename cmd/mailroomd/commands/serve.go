package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hireloop/mailroom/imports"
	"github.com/hireloop/mailroom/logger"
	"github.com/hireloop/mailroom/provider/mailgate"
)

// ServeCmd runs the import daemon in the foreground.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the import daemon",
	Long: `Run the import daemon in foreground mode.

The daemon drives the whole import lifecycle:
- Periodic dispatcher tick promoting queued runs under mutual exclusion
- Time-boxed slice execution with a bounded worker pool
- Reaper sweep for runs stuck past the staleness threshold

Runs until interrupted (Ctrl+C); the in-flight slice is allowed to finish
its bookkeeping before exit.`,
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

		provider := mailgate.New(mailgate.Config{
			BaseURL:              cfg.Provider.BaseURL,
			Token:                cfg.Provider.Token,
			Timeout:              cfg.Provider.Timeout(),
			RetryCount:           cfg.Provider.RetryCount,
			MaxRequestsPerMinute: cfg.Provider.MaxRequestsPerMinute,
		})

		registry := imports.NewHandlerRegistry()
		registry.Register(imports.StepFetched, imports.NewFetchHandler(provider))
		registry.Register(imports.StepSaved, imports.NewSpoolSaveHandler(cfg.Import.SpoolDir, provider))
		// Business-logic steps are integration points for the recruiting
		// pipeline; the daemon runs them as no-ops until those land.
		registry.Register(imports.StepParsed, imports.NoopHandler())
		registry.Register(imports.StepClassified, imports.NoopHandler())
		registry.Register(imports.StepPersisted, imports.NoopHandler())
		if err := registry.Validate(); err != nil {
			return err
		}

		enum := imports.NewEnumerator(runs, items, provider, cfg.Provider.Mailbox,
			cfg.Import.PageSize, cfg.Import.SearchLookback(), logger.Named("enumerator"))
		processor := imports.NewItemProcessor(items, registry, cfg.Import.ItemAllowance(), logger.Named("processor"))

		slices := imports.NewSliceProcessor(runs, items, enum, processor, imports.SliceConfig{
			HardLimit:      cfg.Import.SliceHardLimit(),
			SoftMargin:     cfg.Import.SliceSoftMargin(),
			ItemAllowance:  cfg.Import.ItemAllowance(),
			EnumerationMin: cfg.Import.EnumerationMin(),
			Concurrency:    cfg.Import.Concurrency,
			BatchSize:      cfg.Import.ClaimBatchSize(),
			RetentionRuns:  cfg.Import.RetentionRuns,
		}, logger.Named("slice"))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		daemon := imports.NewDaemon(ctx, runs, items, slices, imports.DaemonConfig{
			DispatchInterval: cfg.Import.DispatchInterval(),
			StaleAfter:       cfg.Import.StaleAfter(),
		}, logger.Named("daemon"))

		daemon.Start()

		fmt.Printf("mailroom daemon started\n")
		fmt.Printf("  Database:          %s\n", cfg.Database.Path)
		fmt.Printf("  Mailbox:           %s\n", cfg.Provider.Mailbox)
		fmt.Printf("  Slice budget:      %v (soft %v)\n", cfg.Import.SliceHardLimit(), cfg.Import.SliceSoftLimit())
		fmt.Printf("  Concurrency:       %d\n", cfg.Import.Concurrency)
		fmt.Printf("  Dispatch interval: %v\n", cfg.Import.DispatchInterval())
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		fmt.Printf("\nShutting down...\n")
		daemon.Stop()
		cancel()

		fmt.Printf("mailroom daemon stopped\n")
		return nil
	},
}
