// Package config holds the mailroom configuration, loaded with Viper from
// TOML files and MAILROOM_* environment variables.
package config

import "time"

// Config represents the core mailroom configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Import   ImportConfig   `mapstructure:"import"`
	Provider ProviderConfig `mapstructure:"provider"`
	Server   ServerConfig   `mapstructure:"server"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures logging output for the daemon
type ServerConfig struct {
	JSONLogs bool `mapstructure:"json_logs"`
	Verbose  bool `mapstructure:"verbose"`
}

// ImportConfig configures the slice processor and dispatcher.
//
// The hosting model allows no long-lived work: every invocation is a slice
// bounded by the hard limit, with a soft margin reserved for bookkeeping.
type ImportConfig struct {
	SliceHardLimitSeconds   int `mapstructure:"slice_hard_limit_seconds"`   // platform ceiling per slice (default: 55)
	SliceSoftMarginSeconds  int `mapstructure:"slice_soft_margin_seconds"`  // reserved for bookkeeping and response (default: 10)
	ItemAllowanceSeconds    int `mapstructure:"item_allowance_seconds"`     // per-item processing allowance (default: 20)
	Concurrency             int `mapstructure:"concurrency"`                // parallel item workers per slice (default: 2)
	BatchFactor             int `mapstructure:"batch_factor"`               // claim batch = concurrency * batch_factor (default: 5)
	PageSize                int `mapstructure:"page_size"`                  // enumeration page size (default: 50)
	EnumerationMinSeconds   int `mapstructure:"enumeration_min_seconds"`    // minimum budget left to start an enumeration pass (default: 10)
	SearchLookbackDays      int `mapstructure:"search_lookback_days"`       // deep search phase lookback window (default: 90)
	RetentionRuns           int `mapstructure:"retention_runs"`             // terminal runs kept per job (default: 10)
	StaleAfterMinutes       int `mapstructure:"stale_after_minutes"`        // reaper threshold for stuck runs (default: 10)
	DispatchIntervalSeconds int `mapstructure:"dispatch_interval_seconds"`  // periodic dispatcher tick (default: 60)

	SpoolDir string `mapstructure:"spool_dir"` // directory for raw message spool files (default: "spool")
}

// ProviderConfig configures the external mail provider client
type ProviderConfig struct {
	BaseURL              string `mapstructure:"base_url"`
	Token                string `mapstructure:"token"`
	Mailbox              string `mapstructure:"mailbox"`
	TimeoutSeconds       int    `mapstructure:"timeout_seconds"`         // per-request timeout (default: 30)
	RetryCount           int    `mapstructure:"retry_count"`             // transient-error retries per request (default: 3)
	MaxRequestsPerMinute int    `mapstructure:"max_requests_per_minute"` // client-side rate limit (default: 60)
}

// Timeout returns the per-request provider timeout.
func (c ProviderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SliceHardLimit returns the hard wall-clock ceiling for one slice.
func (c ImportConfig) SliceHardLimit() time.Duration {
	return time.Duration(c.SliceHardLimitSeconds) * time.Second
}

// SliceSoftMargin returns the bookkeeping margin under the hard limit.
func (c ImportConfig) SliceSoftMargin() time.Duration {
	return time.Duration(c.SliceSoftMarginSeconds) * time.Second
}

// SliceSoftLimit returns the soft limit: hard limit minus the safety margin.
func (c ImportConfig) SliceSoftLimit() time.Duration {
	return c.SliceHardLimit() - time.Duration(c.SliceSoftMarginSeconds)*time.Second
}

// ItemAllowance returns the per-item processing allowance.
func (c ImportConfig) ItemAllowance() time.Duration {
	return time.Duration(c.ItemAllowanceSeconds) * time.Second
}

// EnumerationMin returns the minimum remaining budget worth starting an
// enumeration pass with.
func (c ImportConfig) EnumerationMin() time.Duration {
	return time.Duration(c.EnumerationMinSeconds) * time.Second
}

// StaleAfter returns the reaper staleness threshold.
func (c ImportConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterMinutes) * time.Minute
}

// DispatchInterval returns the periodic dispatcher tick interval.
func (c ImportConfig) DispatchInterval() time.Duration {
	return time.Duration(c.DispatchIntervalSeconds) * time.Second
}

// SearchLookback returns the deep search phase lookback window.
func (c ImportConfig) SearchLookback() time.Duration {
	return time.Duration(c.SearchLookbackDays) * 24 * time.Hour
}

// ClaimBatchSize returns how many pending items one claim pulls.
func (c ImportConfig) ClaimBatchSize() int {
	return c.Concurrency * c.BatchFactor
}
