package controllers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/amaumene/mediasync/internal/diff"
	"github.com/amaumene/mediasync/internal/metrics"
	"github.com/amaumene/mediasync/internal/models"
	"github.com/amaumene/mediasync/internal/resolution"
	"github.com/amaumene/mediasync/internal/sources"
	"github.com/sirupsen/logrus"
)

// collected is what one source holds: its whole current state, for diffs, and the part
// changed since its last sync, for resolution
type collected struct {
	source   sources.Source
	existing resolution.SourceData
	fresh    resolution.SourceData
	excluded []models.ExcludedItem
	failed   map[models.DataType]bool
}

func (col *collected) name() string { return col.source.Name() }

// collect fetches every source concurrently, in preference order
func (c *SyncController) collect(ctx context.Context, active []sources.Source, opts SyncOptions, result *SyncResult) []*collected {
	out := make([]*collected, len(active))
	for i, src := range active {
		out[i] = &collected{
			source:   src,
			existing: resolution.SourceData{Source: src.Name()},
			fresh:    resolution.SourceData{Source: src.Name()},
			failed:   make(map[models.DataType]bool),
		}
		result.summary(src.Name())
	}

	c.progress.Start("collect", len(active))
	var wg sync.WaitGroup
	for _, col := range out {
		wg.Add(1)
		go func(col *collected) {
			defer wg.Done()
			defer c.progress.Add(1)
			c.collectSource(ctx, col, opts, result)
		}(col)
	}
	wg.Wait()
	return out
}

func (c *SyncController) collectSource(ctx context.Context, col *collected, opts SyncOptions, result *SyncResult) {
	name := col.name()
	log := c.logger.WithField("source", name)
	summary := result.summary(name)

	if inc, ok := sources.AsIncrementalSync(col.source); ok {
		inc.SetForceFullSync(opts.ForceFull)
	}

	fail := func(dataType models.DataType, err error) {
		col.failed[dataType] = true
		summary.Failed++
		result.addError(fmt.Sprintf("failed to fetch %s %s: %v", name, dataType, err))
		log.WithError(err).WithField("type", dataType).Error("Failed to fetch")
	}

	var err error
	if opts.Watchlist {
		col.existing.Watchlist, col.fresh.Watchlist, err = collectType(ctx, c, col, models.DataWatchlist, opts, col.source.GetWatchlist)
		if err != nil {
			fail(models.DataWatchlist, err)
		}
	}
	if opts.Ratings {
		col.existing.Ratings, col.fresh.Ratings, err = collectType(ctx, c, col, models.DataRatings, opts, col.source.GetRatings)
		if err != nil {
			fail(models.DataRatings, err)
		}
	}
	if opts.Reviews {
		col.existing.Reviews, col.fresh.Reviews, err = collectType(ctx, c, col, models.DataReviews, opts, col.source.GetReviews)
		if err != nil {
			fail(models.DataReviews, err)
		}
	}
	if opts.History {
		col.existing.WatchHistory, col.fresh.WatchHistory, err = collectType(ctx, c, col, models.DataHistory, opts, col.source.GetWatchHistory)
		if err != nil {
			fail(models.DataHistory, err)
		}
	}

	summary.Fetched = col.existing.Len()
	log.WithFields(logrus.Fields{
		"watchlist": len(col.existing.Watchlist),
		"ratings":   len(col.existing.Ratings),
		"reviews":   len(col.existing.Reviews),
		"history":   len(col.existing.WatchHistory),
		"changed":   col.fresh.Len(),
		"excluded":  len(col.excluded),
	}).Info("Collected source data")
}

// collectType returns the whole current state of one collection and the part changed
// since the last sync of the source. With the cache enabled only the collect snapshot is
// read. A natively incremental source returns only changes, which are laid over the
// previous snapshot.
func collectType[T models.Identifiable](
	ctx context.Context,
	c *SyncController,
	col *collected,
	dataType models.DataType,
	opts SyncOptions,
	fetch func(context.Context) ([]T, error),
) (existing, fresh []T, err error) {
	name := col.name()
	log := c.logger.WithFields(logrus.Fields{"source": name, "type": dataType})
	native := sources.SupportsNativeIncremental(col.source)

	if opts.usesCache(name) {
		items, ok := LoadCollected[T](c.cache, name, dataType)
		if !ok {
			log.Warn("Cache miss with use-cache enabled, using an empty list")
		}
		existing = items
		native = false
	} else {
		items, err := fetch(ctx)
		if err != nil {
			if !errors.Is(err, sources.ErrNotSupported) {
				return nil, nil, err
			}
			log.Debug("Collection not supported by source")
			items = nil
		}
		metrics.RecordFetched(name, string(dataType), len(items))

		existing = items
		if native {
			fresh = items
			if !opts.ForceFull {
				if previous, ok := LoadCollected[T](c.cache, name, dataType); ok {
					existing = diff.Dedupe(append(append([]T(nil), items...), previous...))
				}
			}
		}
		if err := SaveCollected(c.cache, name, dataType, existing); err != nil {
			log.WithError(err).Warn("Failed to save collect cache")
		}
	}

	if !native {
		fresh = existing
		if !opts.ForceFull {
			if last, ok := c.times.LastSync(name, dataType); ok {
				var dropped []T
				fresh, dropped = splitSince(existing, last)
				log.WithFields(logrus.Fields{"since": last, "kept": len(fresh), "skipped": len(dropped)}).Debug("Applied incremental window")
			}
		}
	}

	existing = applyIgnore(c, col, existing, true)
	fresh = applyIgnore(c, col, fresh, false)
	return existing, fresh, nil
}

// applyIgnore drops the items matching the ignore list. When record is set the dropped
// items are added to the excluded list of the source.
func applyIgnore[T models.Identifiable](c *SyncController, col *collected, items []T, record bool) []T {
	if c.ignore.Len() == 0 {
		return items
	}
	kept := items[:0:0]
	for _, item := range items {
		ids := diff.EffectiveIDs(item)
		if ignored, entry := c.ignore.IsIgnored(ids.IMDB, itemTitle(item)); ignored {
			if record {
				col.excluded = append(col.excluded, excludedFrom(item, "ignore list: "+entry))
			}
			continue
		}
		kept = append(kept, item)
	}
	return kept
}
