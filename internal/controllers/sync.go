package controllers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/amaumene/mediasync/internal/config"
	"github.com/amaumene/mediasync/internal/metrics"
	"github.com/amaumene/mediasync/internal/models"
	"github.com/amaumene/mediasync/internal/resolution"
	"github.com/amaumene/mediasync/internal/resolver"
	"github.com/amaumene/mediasync/internal/sources"
	"github.com/amaumene/mediasync/internal/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrSyncInProgress is returned when a run is requested while another one is active
var ErrSyncInProgress = errors.New("sync already in progress")

// TimestampStore persists the last successful sync per source and collection
type TimestampStore interface {
	LastSync(source string, dataType models.DataType) (time.Time, bool)
	SetLastSync(source string, dataType models.DataType, t time.Time) error
}

// RunStore persists finished runs
type RunStore interface {
	SaveSyncRun(run *models.SyncRun) error
}

// SyncOptions selects what one run does
type SyncOptions struct {
	Watchlist bool
	Ratings   bool
	Reviews   bool
	History   bool
	ForceFull bool
	DryRun    []string
	UseCache  []string
}

// OptionsFromConfig selects the collections enabled in the configuration
func OptionsFromConfig(cfg config.SyncConfig) SyncOptions {
	return SyncOptions{
		Watchlist: cfg.SyncWatchlist,
		Ratings:   cfg.SyncRatings,
		Reviews:   cfg.SyncReviews,
		History:   cfg.SyncWatchHistory,
	}
}

// Enabled reports whether a collection takes part in the run
func (o SyncOptions) Enabled(dataType models.DataType) bool {
	switch dataType {
	case models.DataWatchlist:
		return o.Watchlist
	case models.DataRatings:
		return o.Ratings
	case models.DataReviews:
		return o.Reviews
	case models.DataHistory:
		return o.History
	}
	return false
}

func (o SyncOptions) isDryRun(source string) bool { return contains(o.DryRun, source) }

func (o SyncOptions) usesCache(source string) bool { return contains(o.UseCache, source) }

func contains(list []string, name string) bool {
	for _, s := range list {
		if s == name {
			return true
		}
	}
	return false
}

// SyncController runs the collect, normalize, resolve and distribute pipeline
type SyncController struct {
	cfg      *config.Config
	sources  []sources.Source
	byName   map[string]sources.Source
	resolver *resolver.Resolver
	times    TimestampStore
	cache    *CacheManager
	runs     RunStore
	ignore   *utils.IgnoreList
	progress *metrics.Progress
	logger   *logrus.Logger
	now      func() time.Time

	running sync.Mutex
}

// NewSyncController creates a new sync controller. runs and ignore may be nil.
func NewSyncController(
	cfg *config.Config,
	list []sources.Source,
	res *resolver.Resolver,
	times TimestampStore,
	cache *CacheManager,
	runs RunStore,
	ignore *utils.IgnoreList,
	logger *logrus.Logger,
) *SyncController {
	byName := make(map[string]sources.Source, len(list))
	for _, src := range list {
		byName[src.Name()] = src
	}
	return &SyncController{
		cfg:      cfg,
		sources:  list,
		byName:   byName,
		resolver: res,
		times:    times,
		cache:    cache,
		runs:     runs,
		ignore:   ignore,
		progress: metrics.NewProgress(),
		logger:   logger,
		now:      time.Now,
	}
}

// Progress returns the counter of the running phase
func (c *SyncController) Progress() *metrics.Progress {
	return c.progress
}

// ordered returns the sources in preference order, unlisted sources last
func (c *SyncController) ordered() []sources.Source {
	var list []sources.Source
	seen := make(map[string]bool)
	for _, name := range c.cfg.Resolution.SourcePreference {
		if src, ok := c.byName[name]; ok && !seen[name] {
			list = append(list, src)
			seen[name] = true
		}
	}
	for _, src := range c.sources {
		if !seen[src.Name()] {
			list = append(list, src)
		}
	}
	return list
}

// Run executes one sync. The returned error is set only when the run could not proceed;
// per-step failures are reported in the result.
func (c *SyncController) Run(ctx context.Context, opts SyncOptions) (*SyncResult, error) {
	if !c.running.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer c.running.Unlock()

	startedAt := c.now().UTC()
	result := newSyncResult(uuid.NewString(), startedAt, opts.DryRun)
	log := c.logger.WithField("run_id", result.RunID)
	log.WithField("sources", len(c.sources)).Info("Starting sync")

	defer func() {
		result.Duration = c.now().Sub(startedAt)
		metrics.RecordRun(result.HasFailures(), result.Duration)
		c.record(result)
	}()

	for _, name := range c.cfg.Resolution.SourcePreference {
		if _, ok := c.byName[name]; !ok {
			err := fmt.Errorf("%w: %s is in source_preference but not configured", config.ErrConfigInvalid, name)
			result.addError(err.Error())
			return result, err
		}
	}

	active, err := c.authenticate(ctx, result)
	if err != nil {
		return result, err
	}

	collected := c.collect(ctx, active, opts, result)
	if err := ctx.Err(); err != nil {
		return result, err
	}

	c.normalize(ctx, collected, result)
	if err := c.resolver.SaveIfDirty(); err != nil {
		log.WithError(err).Warn("Failed to save ID cache")
	}
	metrics.SetIDCacheEntries(c.resolver.Len())
	if err := ctx.Err(); err != nil {
		return result, err
	}

	fresh := make([]resolution.SourceData, 0, len(collected))
	for _, col := range collected {
		fresh = append(fresh, col.fresh)
	}
	resolved := resolution.New(c.cfg.Resolution, c.resolver).ResolveAll(fresh)
	if opts.History && c.cfg.Sync.MarkRatedAsWatched {
		resolved.WatchHistory = append(resolved.WatchHistory, c.ratedAsWatched(resolved, collected)...)
	}
	log.WithFields(logrus.Fields{
		"watchlist": len(resolved.Watchlist),
		"ratings":   len(resolved.Ratings),
		"reviews":   len(resolved.Reviews),
		"history":   len(resolved.WatchHistory),
	}).Info("Resolved conflicts")

	c.distribute(ctx, collected, resolved, opts, startedAt, result)

	if err := c.resolver.SaveIfDirty(); err != nil {
		log.WithError(err).Warn("Failed to save ID cache")
	}

	log.WithFields(logrus.Fields{
		"failures": result.HasFailures(),
		"errors":   len(result.Errors),
	}).Info("Sync completed")
	return result, nil
}

// authenticate checks every source in preference order. A failure of the primary
// source aborts the run; other failing sources are left out.
func (c *SyncController) authenticate(ctx context.Context, result *SyncResult) ([]sources.Source, error) {
	var active []sources.Source
	for i, src := range c.ordered() {
		result.summary(src.Name())
		if err := src.Authenticate(ctx); err != nil {
			msg := fmt.Sprintf("failed to authenticate to %s: %v", src.Name(), err)
			result.addError(msg)
			result.summary(src.Name()).Failed++
			if i == 0 {
				c.logger.WithError(err).WithField("source", src.Name()).Error("Primary source authentication failed")
				return nil, fmt.Errorf("failed to authenticate to %s: %w", src.Name(), err)
			}
			c.logger.WithError(err).WithField("source", src.Name()).Warn("Skipping source that failed authentication")
			continue
		}
		active = append(active, src)
	}
	return active, nil
}

// record persists the run and cleans up sources
func (c *SyncController) record(result *SyncResult) {
	for _, src := range c.sources {
		if err := src.Cleanup(context.Background()); err != nil {
			c.logger.WithError(err).WithField("source", src.Name()).Warn("Source cleanup failed")
		}
	}
	if c.runs == nil {
		return
	}
	if err := c.runs.SaveSyncRun(result.Record()); err != nil {
		c.logger.WithError(err).Warn("Failed to record sync run")
	}
}
