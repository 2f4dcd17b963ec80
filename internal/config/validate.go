package config

import (
	"fmt"

	"github.com/amaumene/mediasync/internal/models"
	"github.com/robfig/cron/v3"
)

var knownSources = []string{"trakt", "simkl"}

// Source returns the settings of a named source
func (c *Config) Source(name string) (SourceConfig, bool) {
	switch name {
	case "trakt":
		return c.Trakt, true
	case "simkl":
		return c.Simkl, true
	}
	return SourceConfig{}, false
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Resolution.TimestampToleranceSeconds < 0 {
		return fmt.Errorf("%w: timestamp_tolerance_seconds must be non-negative", ErrConfigInvalid)
	}

	if !c.Resolution.Strategy.Valid() {
		return fmt.Errorf("%w: unknown resolution strategy %q", ErrConfigInvalid, c.Resolution.Strategy)
	}
	if s := c.Resolution.RatingsStrategy; s != "" && !s.Valid() {
		return fmt.Errorf("%w: unknown ratings_strategy %q", ErrConfigInvalid, s)
	}
	if s := c.Resolution.WatchlistStrategy; s != "" && !s.Valid() {
		return fmt.Errorf("%w: unknown watchlist_strategy %q", ErrConfigInvalid, s)
	}

	if len(c.Resolution.SourcePreference) == 0 {
		return fmt.Errorf("%w: source_preference is required and cannot be empty", ErrConfigInvalid)
	}

	seen := make(map[string]bool)
	for _, name := range c.Resolution.SourcePreference {
		if seen[name] {
			return fmt.Errorf("%w: %s appears twice in source_preference", ErrConfigInvalid, name)
		}
		seen[name] = true

		src, ok := c.Source(name)
		if !ok {
			return fmt.Errorf("%w: invalid source in source_preference: %s (known: %v)", ErrConfigInvalid, name, knownSources)
		}
		if !src.Enabled {
			return fmt.Errorf("%w: %s is in source_preference but is not enabled", ErrConfigInvalid, name)
		}
		if src.ClientID == "" || src.ClientID == "YOUR_CLIENT_ID" {
			return fmt.Errorf("%w: %s.client_id is required", ErrConfigInvalid, name)
		}
		if name == "trakt" && (src.ClientSecret == "" || src.ClientSecret == "YOUR_CLIENT_SECRET") {
			return fmt.Errorf("%w: %s.client_secret is required", ErrConfigInvalid, name)
		}
		for native, status := range src.StatusMapping.ToNormalized {
			if _, err := models.ParseNormalizedStatus(status); err != nil {
				return fmt.Errorf("%w: %s.status_mapping.to_normalized[%s]: %v", ErrConfigInvalid, name, native, err)
			}
		}
		for status := range src.StatusMapping.FromNormalized {
			if _, err := models.ParseNormalizedStatus(status); err != nil {
				return fmt.Errorf("%w: %s.status_mapping.from_normalized: %v", ErrConfigInvalid, name, err)
			}
		}
	}

	if c.Sync.RemoveWatchlistItemsOlderThanDays < 0 {
		return fmt.Errorf("%w: remove_watchlist_items_older_than_days must be non-negative", ErrConfigInvalid)
	}

	if _, err := cron.ParseStandard(c.Scheduler.Schedule); err != nil {
		return fmt.Errorf("%w: invalid scheduler.schedule %q: %v", ErrConfigInvalid, c.Scheduler.Schedule, err)
	}
	if _, err := c.Scheduler.Location(); err != nil {
		return fmt.Errorf("%w: invalid scheduler.timezone %q: %v", ErrConfigInvalid, c.Scheduler.Timezone, err)
	}

	if c.IDCache.FullSaveInterval < 0 {
		return fmt.Errorf("%w: id_cache.full_save_interval must be non-negative", ErrConfigInvalid)
	}

	return nil
}
