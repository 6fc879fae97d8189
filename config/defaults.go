package config

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "mailroom.db")

	// Server defaults
	v.SetDefault("server.json_logs", false)
	v.SetDefault("server.verbose", false)

	// Import slice defaults. The hard limit mirrors a typical serverless
	// invocation ceiling of 60s with a little headroom.
	v.SetDefault("import.slice_hard_limit_seconds", 55)
	v.SetDefault("import.slice_soft_margin_seconds", 10)
	v.SetDefault("import.item_allowance_seconds", 20)
	v.SetDefault("import.concurrency", 2)
	v.SetDefault("import.batch_factor", 5)
	v.SetDefault("import.page_size", 50)
	v.SetDefault("import.enumeration_min_seconds", 10)
	v.SetDefault("import.search_lookback_days", 90)
	v.SetDefault("import.retention_runs", 10)
	v.SetDefault("import.stale_after_minutes", 10)
	v.SetDefault("import.dispatch_interval_seconds", 60)
	v.SetDefault("import.spool_dir", "spool")

	// Provider defaults
	v.SetDefault("provider.timeout_seconds", 30)
	v.SetDefault("provider.retry_count", 3)
	v.SetDefault("provider.max_requests_per_minute", 60)
}
