package config

import "github.com/hireloop/mailroom/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Import.SliceHardLimitSeconds <= 0 {
		return errors.Newf("import.slice_hard_limit_seconds must be > 0, got %d", c.Import.SliceHardLimitSeconds)
	}
	if c.Import.SliceSoftMarginSeconds < 0 {
		return errors.Newf("import.slice_soft_margin_seconds must be >= 0, got %d", c.Import.SliceSoftMarginSeconds)
	}
	if c.Import.SliceSoftMarginSeconds >= c.Import.SliceHardLimitSeconds {
		return errors.Newf("import.slice_soft_margin_seconds (%d) must be smaller than the hard limit (%d)",
			c.Import.SliceSoftMarginSeconds, c.Import.SliceHardLimitSeconds)
	}
	if c.Import.ItemAllowanceSeconds <= 0 {
		return errors.Newf("import.item_allowance_seconds must be > 0, got %d", c.Import.ItemAllowanceSeconds)
	}
	if c.Import.Concurrency <= 0 {
		return errors.Newf("import.concurrency must be > 0, got %d", c.Import.Concurrency)
	}
	if c.Import.BatchFactor <= 0 {
		return errors.Newf("import.batch_factor must be > 0, got %d", c.Import.BatchFactor)
	}
	if c.Import.PageSize <= 0 {
		return errors.Newf("import.page_size must be > 0, got %d", c.Import.PageSize)
	}
	if c.Import.RetentionRuns < 1 {
		return errors.Newf("import.retention_runs must be >= 1, got %d", c.Import.RetentionRuns)
	}
	if c.Import.StaleAfterMinutes <= 0 {
		return errors.Newf("import.stale_after_minutes must be > 0, got %d", c.Import.StaleAfterMinutes)
	}
	if c.Import.DispatchIntervalSeconds <= 0 {
		return errors.Newf("import.dispatch_interval_seconds must be > 0, got %d", c.Import.DispatchIntervalSeconds)
	}

	if c.Provider.TimeoutSeconds <= 0 {
		return errors.Newf("provider.timeout_seconds must be > 0, got %d", c.Provider.TimeoutSeconds)
	}
	if c.Provider.RetryCount < 0 {
		return errors.Newf("provider.retry_count must be >= 0, got %d", c.Provider.RetryCount)
	}
	if c.Provider.MaxRequestsPerMinute <= 0 {
		return errors.Newf("provider.max_requests_per_minute must be > 0, got %d", c.Provider.MaxRequestsPerMinute)
	}

	return nil
}
