package controllers

import (
	"context"
	"strings"

	"github.com/amaumene/mediasync/internal/diff"
	"github.com/amaumene/mediasync/internal/models"
	"github.com/sirupsen/logrus"
)

// normalize attaches the best known identifiers to every collected item. Items left
// without any identifier cannot be matched across sources and are excluded.
func (c *SyncController) normalize(ctx context.Context, list []*collected, result *SyncResult) {
	total := 0
	for _, col := range list {
		total += col.existing.Len() + col.fresh.Len()
	}
	c.progress.Start("normalize", total)

	for _, col := range list {
		if ctx.Err() != nil {
			return
		}
		col.existing.Watchlist = normalizeItems(ctx, c, col, col.existing.Watchlist, true)
		col.fresh.Watchlist = normalizeItems(ctx, c, col, col.fresh.Watchlist, false)
		col.existing.Ratings = normalizeItems(ctx, c, col, col.existing.Ratings, true)
		col.fresh.Ratings = normalizeItems(ctx, c, col, col.fresh.Ratings, false)
		col.existing.Reviews = normalizeItems(ctx, c, col, col.existing.Reviews, true)
		col.fresh.Reviews = normalizeItems(ctx, c, col, col.fresh.Reviews, false)
		col.existing.WatchHistory = normalizeItems(ctx, c, col, col.existing.WatchHistory, true)
		col.fresh.WatchHistory = normalizeItems(ctx, c, col, col.fresh.WatchHistory, false)

		result.summary(col.name()).Resolved = col.existing.Len()
		if len(col.excluded) > 0 {
			if err := c.cache.SaveExcluded(col.name(), col.excluded); err != nil {
				c.logger.WithError(err).WithField("source", col.name()).Warn("Failed to save excluded items")
			}
		}
		c.logger.WithFields(logrus.Fields{
			"source":   col.name(),
			"resolved": col.existing.Len(),
			"excluded": len(col.excluded),
		}).Info("Normalized identifiers")
	}
}

// normalizeItems resolves the identifiers of items. When record is set the dropped
// items are added to the excluded list of the source.
func normalizeItems[T models.Identifiable](ctx context.Context, c *SyncController, col *collected, items []T, record bool) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		c.progress.Add(1)
		ids := c.identify(ctx, item)
		if ids.IsEmpty() {
			if record {
				reason := "no identifiers"
				if itemTitle(item) == "" {
					reason = "no identifiers and no title"
				}
				col.excluded = append(col.excluded, excludedFrom(item, reason))
			}
			continue
		}
		out = append(out, withIdentity(item, ids))
	}
	return out
}

// identify returns the identifiers of an item: its own ones merged with the cached record
// and with what the title is known as, or the result of a title lookup when it carries none
func (c *SyncController) identify(ctx context.Context, item models.Identifiable) models.MediaIDs {
	ids := diff.EffectiveIDs(item)
	title, year, mediaType := itemTitle(item), itemYear(item), itemMediaType(item)

	if !ids.IsEmpty() {
		if rec := c.resolver.FindByIDs(ids); rec != nil && !rec.ConflictsWith(ids) {
			ids.Merge(*rec)
		}
		c.bridgeTitle(ctx, &ids, title, year, mediaType)
		if rec := c.resolver.CacheIDsWithMetadata(ids, title, year, mediaType); rec != nil {
			ids.Merge(*rec)
		}
		if title == "" && ids.Title == "" && ids.IMDB != "" {
			found, err := c.resolver.ResolveFromIMDB(ctx, ids.IMDB, mediaType)
			if err != nil {
				c.logger.WithError(err).WithField("imdb_id", ids.IMDB).Debug("Failed to look up title")
			} else if found != nil {
				ids.Merge(found.IDs)
				if ids.Title == "" {
					ids.Title, ids.Year = found.Title, found.Year
				}
			}
		}
		return ids
	}

	if strings.TrimSpace(title) == "" {
		return ids
	}
	found, err := c.resolver.Resolve(ctx, title, year, mediaType, "")
	if err != nil {
		c.logger.WithError(err).WithField("title", title).Debug("Failed to resolve identifiers")
		return ids
	}
	ids.Merge(found)
	return ids
}

// bridgeTitle links ids to the record known under the same title, year and type. A movie
// or show without an imdb id is also looked up, so that aliases from different services meet.
func (c *SyncController) bridgeTitle(ctx context.Context, ids *models.MediaIDs, title string, year int, mediaType models.MediaType) {
	if strings.TrimSpace(title) == "" {
		return
	}
	if ids.IMDB != "" || mediaType.IsEpisode() {
		if rec := c.resolver.FindByTitleYear(title, year, mediaType); rec != nil && !rec.ConflictsWith(*ids) {
			ids.Merge(*rec)
		}
		return
	}

	found, err := c.resolver.Resolve(ctx, title, year, mediaType, "")
	if err != nil {
		c.logger.WithError(err).WithField("title", title).Debug("Failed to resolve identifiers")
		return
	}
	if !found.ConflictsWith(*ids) {
		ids.Merge(found)
	}
}
