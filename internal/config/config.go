package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/amaumene/mediasync/internal/models"
	"github.com/spf13/viper"
)

// ErrConfigInvalid wraps every configuration validation failure
var ErrConfigInvalid = errors.New("invalid configuration")

// Config holds all application configuration
type Config struct {
	Trakt      SourceConfig     `mapstructure:"trakt"`
	Simkl      SourceConfig     `mapstructure:"simkl"`
	Resolution ResolutionConfig `mapstructure:"resolution"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	IDCache    IDCacheConfig    `mapstructure:"id_cache"`

	Paths Paths `mapstructure:"-"`
}

// SourceConfig holds the settings shared by API-backed sources
type SourceConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	ClientID      string              `mapstructure:"client_id"`
	ClientSecret  string              `mapstructure:"client_secret"`
	StatusMapping StatusMappingConfig `mapstructure:"status_mapping"`
}

// StatusMappingConfig maps native status names to normalized ones and back
type StatusMappingConfig struct {
	ToNormalized   map[string]string `mapstructure:"to_normalized"`
	FromNormalized map[string]string `mapstructure:"from_normalized"`
}

// ToNormalizedStatus maps a native status name
func (m StatusMappingConfig) ToNormalizedStatus(native string) (models.NormalizedStatus, bool) {
	value, ok := m.ToNormalized[strings.ToLower(native)]
	if !ok {
		return "", false
	}
	status, err := models.ParseNormalizedStatus(value)
	if err != nil {
		return "", false
	}
	return status, true
}

// FromNormalizedStatus maps a normalized status to its native name
func (m StatusMappingConfig) FromNormalizedStatus(status models.NormalizedStatus) (string, bool) {
	value, ok := m.FromNormalized[string(status)]
	return value, ok
}

// ResolutionConfig controls conflict resolution
type ResolutionConfig struct {
	Strategy                  ResolutionStrategy `mapstructure:"strategy"`
	SourcePreference          []string           `mapstructure:"source_preference"`
	TimestampToleranceSeconds int64              `mapstructure:"timestamp_tolerance_seconds"`
	RatingsStrategy           ResolutionStrategy `mapstructure:"ratings_strategy"`
	WatchlistStrategy         ResolutionStrategy `mapstructure:"watchlist_strategy"`
}

// StrategyFor returns the effective strategy of a collection. Reviews and history always merge.
func (r ResolutionConfig) StrategyFor(dataType models.DataType) ResolutionStrategy {
	switch dataType {
	case models.DataWatchlist:
		if r.WatchlistStrategy != "" {
			return r.WatchlistStrategy
		}
	case models.DataRatings:
		if r.RatingsStrategy != "" {
			return r.RatingsStrategy
		}
	case models.DataReviews, models.DataHistory:
		return StrategyMerge
	}
	return r.Strategy
}

// Tolerance returns the preference tie window
func (r ResolutionConfig) Tolerance() time.Duration {
	return time.Duration(r.TimestampToleranceSeconds) * time.Second
}

// PreferenceRank returns the position of source in the preference list, or len(list) if absent
func (r ResolutionConfig) PreferenceRank(source string) int {
	for i, s := range r.SourcePreference {
		if s == source {
			return i
		}
	}
	return len(r.SourcePreference)
}

// SyncConfig selects what is synchronized
type SyncConfig struct {
	SyncWatchlist                     bool `mapstructure:"sync_watchlist"`
	SyncRatings                       bool `mapstructure:"sync_ratings"`
	SyncReviews                       bool `mapstructure:"sync_reviews"`
	SyncWatchHistory                  bool `mapstructure:"sync_watch_history"`
	RemoveWatchedFromWatchlists       bool `mapstructure:"remove_watched_from_watchlists"`
	MarkRatedAsWatched                bool `mapstructure:"mark_rated_as_watched"`
	RemoveWatchlistItemsOlderThanDays int  `mapstructure:"remove_watchlist_items_older_than_days"`
}

// Enabled reports whether a collection is synchronized
func (s SyncConfig) Enabled(dataType models.DataType) bool {
	switch dataType {
	case models.DataWatchlist:
		return s.SyncWatchlist
	case models.DataRatings:
		return s.SyncRatings
	case models.DataReviews:
		return s.SyncReviews
	case models.DataHistory:
		return s.SyncWatchHistory
	}
	return false
}

// SchedulerConfig drives the daemon
type SchedulerConfig struct {
	Schedule     string `mapstructure:"schedule"`
	Timezone     string `mapstructure:"timezone"`
	RunOnStartup bool   `mapstructure:"run_on_startup"`
}

// Location resolves the configured timezone
func (s SchedulerConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Timezone)
}

// ServerConfig controls the daemon HTTP endpoint
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    string `mapstructure:"port"`
}

// LoggingConfig controls the logger
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
	File  string `mapstructure:"file"`
}

// IDCacheConfig controls the identity cache and external lookups
type IDCacheConfig struct {
	Compression        bool `mapstructure:"compression"`
	IncrementalSaves   bool `mapstructure:"incremental_saves"`
	FullSaveInterval   int  `mapstructure:"full_save_interval"`
	LookupCooldownDays int  `mapstructure:"lookup_cooldown_days"`
}

func defaultTimezone() string {
	if tz := os.Getenv("TZ"); tz != "" {
		if _, err := time.LoadLocation(tz); err == nil {
			return tz
		}
	}
	return "UTC"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("trakt.enabled", false)
	v.SetDefault("trakt.status_mapping.to_normalized", map[string]string{
		"watchlist":     string(models.StatusWatchlist),
		"watch_history": string(models.StatusWatching),
	})
	v.SetDefault("trakt.status_mapping.from_normalized", map[string]string{
		string(models.StatusWatchlist): "watchlist",
		string(models.StatusWatching):  "watch_history",
		string(models.StatusCompleted): "watch_history",
	})

	v.SetDefault("simkl.enabled", false)
	v.SetDefault("simkl.status_mapping.to_normalized", map[string]string{
		"plantowatch": string(models.StatusWatchlist),
		"watching":    string(models.StatusWatching),
		"completed":   string(models.StatusCompleted),
		"dropped":     string(models.StatusDropped),
		"hold":        string(models.StatusHold),
	})
	v.SetDefault("simkl.status_mapping.from_normalized", map[string]string{
		string(models.StatusWatchlist): "plantowatch",
		string(models.StatusWatching):  "watching",
		string(models.StatusCompleted): "completed",
		string(models.StatusDropped):   "dropped",
		string(models.StatusHold):      "hold",
	})

	v.SetDefault("resolution.strategy", string(StrategyPreference))
	v.SetDefault("resolution.source_preference", []string{})
	v.SetDefault("resolution.timestamp_tolerance_seconds", 3600)

	v.SetDefault("sync.sync_watchlist", true)
	v.SetDefault("sync.sync_ratings", true)
	v.SetDefault("sync.sync_reviews", true)
	v.SetDefault("sync.sync_watch_history", true)
	v.SetDefault("sync.remove_watched_from_watchlists", false)
	v.SetDefault("sync.mark_rated_as_watched", false)
	v.SetDefault("sync.remove_watchlist_items_older_than_days", 0)

	v.SetDefault("scheduler.schedule", "0 */6 * * *")
	v.SetDefault("scheduler.timezone", defaultTimezone())
	v.SetDefault("scheduler.run_on_startup", true)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", "8080")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json", false)
	v.SetDefault("logging.file", "")

	v.SetDefault("id_cache.compression", true)
	v.SetDefault("id_cache.incremental_saves", true)
	v.SetDefault("id_cache.full_save_interval", 0)
	v.SetDefault("id_cache.lookup_cooldown_days", 7)
}

// unsupportedKeys are rejected because reviews and history always merge
var unsupportedKeys = []string{
	"resolution.reviews_strategy",
	"resolution.history_strategy",
	"resolution.watch_history_strategy",
}

func newViper(paths Paths) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(paths.ConfigFile)
	v.SetConfigType("toml")
	v.SetEnvPrefix("MEDIASYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load reads config.toml from the base directory, applies defaults and environment
// overrides, and validates the result
func Load(baseDir string) (*Config, error) {
	cfg, err := LoadUnvalidated(baseDir)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadUnvalidated is Load without validation, for commands that inspect or repair the config
func LoadUnvalidated(baseDir string) (*Config, error) {
	paths, err := NewPaths(baseDir)
	if err != nil {
		return nil, err
	}
	if err := paths.Ensure(); err != nil {
		return nil, err
	}

	v := newViper(paths)
	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	for _, key := range unsupportedKeys {
		if v.IsSet(key) {
			return nil, fmt.Errorf("%w: %s is not supported, reviews and watch history are always merged", ErrConfigInvalid, key)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.Paths = paths

	cfg.Resolution.Strategy = ResolutionStrategy(strings.ToLower(string(cfg.Resolution.Strategy)))
	cfg.Resolution.RatingsStrategy = ResolutionStrategy(strings.ToLower(string(cfg.Resolution.RatingsStrategy)))
	cfg.Resolution.WatchlistStrategy = ResolutionStrategy(strings.ToLower(string(cfg.Resolution.WatchlistStrategy)))
	for i, s := range cfg.Resolution.SourcePreference {
		cfg.Resolution.SourcePreference[i] = strings.ToLower(strings.TrimSpace(s))
	}

	return &cfg, nil
}

// Set writes one key into config.toml, creating the file from defaults when needed
func Set(baseDir, key, value string) error {
	paths, err := NewPaths(baseDir)
	if err != nil {
		return err
	}
	if err := paths.Ensure(); err != nil {
		return err
	}

	v := newViper(paths)
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if key == "resolution.source_preference" {
		var list []string
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				list = append(list, s)
			}
		}
		v.Set(key, list)
	} else {
		v.Set(key, value)
	}

	if err := v.WriteConfigAs(paths.ConfigFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// EnabledSources returns the names of enabled sources, in preference order first
func (c *Config) EnabledSources() []string {
	enabled := map[string]bool{
		"trakt": c.Trakt.Enabled,
		"simkl": c.Simkl.Enabled,
	}

	var names []string
	seen := make(map[string]bool)
	for _, name := range c.Resolution.SourcePreference {
		if enabled[name] && !seen[name] {
			names = append(names, name)
			seen[name] = true
		}
	}
	for _, name := range []string{"trakt", "simkl"} {
		if enabled[name] && !seen[name] {
			names = append(names, name)
		}
	}
	return names
}
