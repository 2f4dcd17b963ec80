package controllers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/amaumene/mediasync/internal/diff"
	"github.com/amaumene/mediasync/internal/metrics"
	"github.com/amaumene/mediasync/internal/models"
	"github.com/amaumene/mediasync/internal/resolution"
	"github.com/amaumene/mediasync/internal/sources"
	"github.com/sirupsen/logrus"
)

// plan is the delta computed for one target
type plan struct {
	watchlistRemove []models.WatchlistItem
	watchlistAdd    []models.WatchlistItem
	toHistory       []models.WatchHistory
	ratings         []models.Rating
	reviews         []models.Review
	history         []models.WatchHistory
	excluded        []models.ExcludedItem
	skipped         map[models.DataType]bool
	included        map[models.DataType]bool
}

func (p *plan) size() int {
	return len(p.watchlistRemove) + len(p.watchlistAdd) + len(p.toHistory) +
		len(p.ratings) + len(p.reviews) + len(p.history)
}

func (p *plan) exclude(item models.Identifiable, reason string) {
	p.excluded = append(p.excluded, excludedFrom(item, reason))
}

// ratedSource marks history entries derived from ratings, so every source receives them
const ratedSource = "rated"

// ratedAsWatched returns history entries for rated movies and episodes nobody has watched yet
func (c *SyncController) ratedAsWatched(resolved resolution.ResolvedData, list []*collected) []models.WatchHistory {
	watched := diff.NewSet(resolved.WatchHistory, c.resolver)
	for _, col := range list {
		for _, h := range col.existing.WatchHistory {
			watched.Add(h)
		}
	}

	var out []models.WatchHistory
	for _, r := range resolved.Ratings {
		if r.MediaType.IsShow() || watched.Contains(r) {
			continue
		}
		entry := models.WatchHistory{
			IMDBID:    r.IMDBID,
			IDs:       r.IDs,
			Title:     r.Title,
			Year:      r.Year,
			WatchedAt: r.DateAdded,
			MediaType: r.MediaType,
			Source:    ratedSource,
		}
		watched.Add(entry)
		out = append(out, entry)
	}
	if len(out) > 0 {
		c.logger.WithField("count", len(out)).Info("Marking rated items as watched")
	}
	return out
}

// distribute plans and pushes the resolved state to every target concurrently
func (c *SyncController) distribute(ctx context.Context, list []*collected, resolved resolution.ResolvedData, opts SyncOptions, startedAt time.Time, result *SyncResult) {
	watched := diff.NewSet(resolved.WatchHistory, c.resolver)
	for _, col := range list {
		for _, h := range col.existing.WatchHistory {
			watched.Add(h)
		}
	}

	c.progress.Start("distribute", len(list))
	var wg sync.WaitGroup
	for _, col := range list {
		wg.Add(1)
		go func(col *collected) {
			defer wg.Done()
			defer c.progress.Add(1)
			p := c.plan(col, list, resolved, watched, opts)
			summary := result.summary(col.name())
			summary.Planned = p.size()
			summary.Skipped += len(p.skipped)
			if opts.isDryRun(col.name()) {
				c.writeDryRun(col.name(), p)
				return
			}
			c.push(ctx, col, p, startedAt, result)
		}(col)
	}
	wg.Wait()
}

// plan computes the delta of one target against its collected state
func (c *SyncController) plan(target *collected, list []*collected, resolved resolution.ResolvedData, watched *diff.Set, opts SyncOptions) *plan {
	name := target.name()
	p := &plan{
		skipped:  make(map[models.DataType]bool),
		included: make(map[models.DataType]bool),
	}
	routing, routes := sources.AsStatusRouting(target.source)

	active := func(dataType models.DataType) bool {
		if !opts.Enabled(dataType) {
			return false
		}
		if target.failed[dataType] {
			p.skipped[dataType] = true
			return false
		}
		p.included[dataType] = true
		return true
	}

	if active(models.DataWatchlist) {
		dropped := diff.NewSet([]models.WatchlistItem(nil), c.resolver)
		for _, col := range list {
			if col == target {
				continue
			}
			for _, w := range col.existing.Watchlist {
				if w.Status == models.StatusDropped {
					dropped.Add(w)
				}
			}
		}

		p.watchlistRemove = c.removals(target, watched, dropped)
		removing := diff.NewSet(p.watchlistRemove, c.resolver)

		candidates := windowFor(c, p, target, models.DataWatchlist, notFrom(resolved.Watchlist, name), opts)
		candidates = diff.FilterNotIn(candidates, target.existing.Watchlist, c.resolver)
		for _, w := range candidates {
			switch {
			case dropped.Contains(w):
				p.exclude(w, "dropped in another source")
			case removing.Contains(w):
				p.exclude(w, "scheduled for removal")
			case routes && w.Status != "" && routing.RoutesToHistory(w.Status):
				if routing.AcceptsHistory(w.MediaType) {
					p.toHistory = append(p.toHistory, models.WatchHistory{
						IMDBID:    w.IMDBID,
						IDs:       w.IDs,
						Title:     w.Title,
						Year:      w.Year,
						WatchedAt: w.DateAdded,
						MediaType: w.MediaType,
						Source:    w.Source,
					})
				} else {
					p.exclude(w, fmt.Sprintf("status %s is not accepted by %s", w.Status, name))
				}
			case c.cfg.Sync.RemoveWatchedFromWatchlists && watched.Contains(w):
				p.exclude(w, "already watched")
			default:
				p.watchlistAdd = append(p.watchlistAdd, w)
			}
		}
		p.toHistory = diff.FilterNotIn(p.toHistory, target.existing.WatchHistory, c.resolver)
	}

	if active(models.DataRatings) {
		candidates := windowFor(c, p, target, models.DataRatings, notFrom(resolved.Ratings, name), opts)
		candidates = diff.FilterRatingsChanged(candidates, target.existing.Ratings, c.resolver)
		norm, scaled := sources.AsRatingNormalization(target.source)
		for _, r := range candidates {
			if r.Rating < 1 || r.Rating > 10 {
				p.exclude(r, fmt.Sprintf("rating %d out of range", r.Rating))
				continue
			}
			if scaled {
				if native := norm.DenormalizeRating(r.Rating); native <= 0 || native > float64(norm.NativeRatingScale()) {
					p.exclude(r, fmt.Sprintf("rating %d has no native value on %s", r.Rating, name))
					continue
				}
			}
			p.ratings = append(p.ratings, r)
		}
	}

	if active(models.DataReviews) {
		candidates := windowFor(c, p, target, models.DataReviews, notFrom(resolved.Reviews, name), opts)
		p.reviews = diff.FilterReviewsChanged(candidates, target.existing.Reviews)
	}

	if active(models.DataHistory) {
		candidates := windowFor(c, p, target, models.DataHistory, notFrom(resolved.WatchHistory, name), opts)
		candidates = diff.FilterNotIn(candidates, target.existing.WatchHistory, c.resolver)
		for _, h := range candidates {
			if routes && !routing.AcceptsHistory(h.MediaType) {
				p.exclude(h, fmt.Sprintf("%s history is not accepted by %s", h.MediaType, name))
				continue
			}
			p.history = append(p.history, h)
		}
	}

	c.logger.WithFields(logrus.Fields{
		"target":           name,
		"watchlist_add":    len(p.watchlistAdd),
		"watchlist_remove": len(p.watchlistRemove),
		"to_history":       len(p.toHistory),
		"ratings":          len(p.ratings),
		"reviews":          len(p.reviews),
		"history":          len(p.history),
	}).Info("Planned changes")
	return p
}

// removals selects the watchlist entries of target to remove. Only entries still waiting to
// be watched are considered.
func (c *SyncController) removals(target *collected, watched, dropped *diff.Set) []models.WatchlistItem {
	var cutoff time.Time
	if days := c.cfg.Sync.RemoveWatchlistItemsOlderThanDays; days > 0 {
		cutoff = c.now().AddDate(0, 0, -days)
	}

	var out []models.WatchlistItem
	for _, w := range target.existing.Watchlist {
		if w.Status != "" && w.Status != models.StatusWatchlist {
			continue
		}
		switch {
		case c.cfg.Sync.RemoveWatchedFromWatchlists && watched.Contains(w):
		case !cutoff.IsZero() && !w.DateAdded.IsZero() && w.DateAdded.Before(cutoff):
		case dropped.Contains(w):
		default:
			continue
		}
		out = append(out, w)
	}
	return out
}

// windowFor keeps the resolved items changed since the last push to target.
// Natively incremental targets and forced runs see everything.
func windowFor[T models.Identifiable](c *SyncController, p *plan, target *collected, dataType models.DataType, items []T, opts SyncOptions) []T {
	if opts.ForceFull || sources.SupportsNativeIncremental(target.source) {
		return items
	}
	last, ok := c.times.LastSync(target.name(), dataType)
	if !ok {
		return items
	}
	kept, dropped := splitSince(items, last)
	for _, item := range dropped {
		p.exclude(item, "unchanged since last sync of "+target.name())
	}
	return kept
}

// notFrom drops the items that originate at the target
func notFrom[T models.Identifiable](items []T, source string) []T {
	out := items[:0:0]
	for _, item := range items {
		if itemSource(item) != source {
			out = append(out, item)
		}
	}
	return out
}

// writeDryRun saves the plan of target instead of pushing it
func (c *SyncController) writeDryRun(name string, p *plan) {
	log := c.logger.WithField("target", name)
	save := func(label string, n int, err error) {
		if err != nil {
			log.WithError(err).WithField("file", label).Warn("Failed to write dry-run snapshot")
			return
		}
		if n > 0 {
			log.WithFields(logrus.Fields{"file": c.cache.DistributePath(name, label), "count": n}).Info("Dry run, changes written")
		}
	}

	if len(p.watchlistAdd) > 0 {
		save(string(models.DataWatchlist), len(p.watchlistAdd), SaveDistribute(c.cache, name, string(models.DataWatchlist), p.watchlistAdd))
	}
	if len(p.toHistory) > 0 {
		save(watchlistToHistoryName, len(p.toHistory), SaveDistribute(c.cache, name, watchlistToHistoryName, p.toHistory))
	}
	if len(p.watchlistRemove) > 0 {
		save(removalListName, len(p.watchlistRemove), SaveDistribute(c.cache, name, removalListName, p.watchlistRemove))
	}
	if len(p.ratings) > 0 {
		save(string(models.DataRatings), len(p.ratings), SaveDistribute(c.cache, name, string(models.DataRatings), p.ratings))
	}
	if len(p.reviews) > 0 {
		save(string(models.DataReviews), len(p.reviews), SaveDistribute(c.cache, name, string(models.DataReviews), p.reviews))
	}
	if len(p.history) > 0 {
		save(string(models.DataHistory), len(p.history), SaveDistribute(c.cache, name, string(models.DataHistory), p.history))
	}
	if len(p.excluded) > 0 {
		save(excludedName, len(p.excluded), c.cache.SaveDistributeExcluded(name, p.excluded))
	}
}

// push applies the plan to target and records the sync time of every collection pushed
// without failure
func (c *SyncController) push(ctx context.Context, target *collected, p *plan, startedAt time.Time, result *SyncResult) {
	name := target.name()
	src := target.source
	summary := result.summary(name)
	log := c.logger.WithField("target", name)

	ok := make(map[models.DataType]bool)
	for _, dataType := range models.AllDataTypes {
		ok[dataType] = true
	}

	apply := func(dataType models.DataType, action string, n int, mutate func(context.Context) error) {
		if n == 0 {
			return
		}
		if err := ctx.Err(); err != nil {
			ok[dataType] = false
			return
		}
		err := mutate(ctx)
		switch {
		case err == nil:
			summary.Pushed += n
			metrics.RecordPushed(name, string(dataType), action, n)
			log.WithFields(logrus.Fields{"type": dataType, "action": action, "count": n}).Info("Pushed changes")
		case errors.Is(err, sources.ErrNotSupported):
			summary.Skipped += n
			log.WithFields(logrus.Fields{"type": dataType, "action": action}).Debug("Not supported by target")
		default:
			ok[dataType] = false
			summary.Failed++
			metrics.RecordPushFailure(name, string(dataType))
			result.addError(fmt.Sprintf("failed to %s %s on %s: %v", action, dataType, name, err))
			log.WithError(err).WithFields(logrus.Fields{"type": dataType, "action": action}).Error("Failed to push changes")
		}
	}

	apply(models.DataWatchlist, "remove", len(p.watchlistRemove), func(ctx context.Context) error {
		return src.RemoveFromWatchlist(ctx, p.watchlistRemove)
	})
	apply(models.DataWatchlist, "add", len(p.watchlistAdd), func(ctx context.Context) error {
		return src.AddToWatchlist(ctx, p.watchlistAdd)
	})
	apply(models.DataWatchlist, "history", len(p.toHistory), func(ctx context.Context) error {
		return src.AddWatchHistory(ctx, p.toHistory)
	})
	apply(models.DataRatings, "add", len(p.ratings), func(ctx context.Context) error {
		return src.SetRatings(ctx, p.ratings)
	})
	apply(models.DataReviews, "add", len(p.reviews), func(ctx context.Context) error {
		return src.SetReviews(ctx, p.reviews)
	})
	apply(models.DataHistory, "add", len(p.history), func(ctx context.Context) error {
		return src.AddWatchHistory(ctx, p.history)
	})

	if ctx.Err() != nil {
		return
	}
	for _, dataType := range models.AllDataTypes {
		if !p.included[dataType] || !ok[dataType] {
			continue
		}
		if err := c.times.SetLastSync(name, dataType, startedAt); err != nil {
			log.WithError(err).WithField("type", dataType).Warn("Failed to record sync time")
		}
	}
}
