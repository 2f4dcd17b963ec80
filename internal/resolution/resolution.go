package resolution

import (
	"sort"
	"time"

	"github.com/amaumene/mediasync/internal/config"
	"github.com/amaumene/mediasync/internal/diff"
	"github.com/amaumene/mediasync/internal/models"
)

// historyMatchWindow is how far apart two plays of the same title may be and still be one play
const historyMatchWindow = time.Second

// SourceData is everything collected from one source
type SourceData struct {
	Source       string
	Watchlist    []models.WatchlistItem
	Ratings      []models.Rating
	Reviews      []models.Review
	WatchHistory []models.WatchHistory
	Excluded     []models.ExcludedItem
}

// Len returns the total number of collected items
func (d *SourceData) Len() int {
	return len(d.Watchlist) + len(d.Ratings) + len(d.Reviews) + len(d.WatchHistory)
}

// ResolvedData is the reconciled state to distribute
type ResolvedData struct {
	Watchlist    []models.WatchlistItem
	Ratings      []models.Rating
	Reviews      []models.Review
	WatchHistory []models.WatchHistory
}

// Resolver picks one winner per title across sources
type Resolver struct {
	cfg config.ResolutionConfig
	idx diff.IDIndex
}

// New creates a resolver. idx may be nil, in which case only shared identifiers link items.
func New(cfg config.ResolutionConfig, idx diff.IDIndex) *Resolver {
	return &Resolver{cfg: cfg, idx: idx}
}

// ResolveAll reconciles every collection. The result depends only on the input.
func (r *Resolver) ResolveAll(data []SourceData) ResolvedData {
	var (
		watchlist []models.WatchlistItem
		ratings   []models.Rating
		reviews   []models.Review
		history   []models.WatchHistory
	)

	for _, d := range data {
		for _, item := range d.Watchlist {
			if item.Source == "" {
				item.Source = d.Source
			}
			watchlist = append(watchlist, item)
		}
		for _, item := range d.Ratings {
			if item.Source == "" {
				item.Source = d.Source
			}
			ratings = append(ratings, item)
		}
		for _, item := range d.Reviews {
			if item.Source == "" {
				item.Source = d.Source
			}
			reviews = append(reviews, item)
		}
		for _, item := range d.WatchHistory {
			if item.Source == "" {
				item.Source = d.Source
			}
			history = append(history, item)
		}
	}

	return ResolvedData{
		Watchlist:    r.ResolveWatchlist(watchlist),
		Ratings:      r.ResolveRatings(ratings),
		Reviews:      r.ResolveReviews(reviews),
		WatchHistory: r.ResolveWatchHistory(history),
	}
}

// ResolveWatchlist keeps one entry per title
func (r *Resolver) ResolveWatchlist(items []models.WatchlistItem) []models.WatchlistItem {
	strategy := r.cfg.StrategyFor(models.DataWatchlist)
	groups := groupByIdentity(items, r.idx)

	out := make([]models.WatchlistItem, 0, len(groups))
	for _, group := range groups {
		members := pick(items, group)
		order := rank(members, strategy, r.cfg, func(w models.WatchlistItem) time.Time { return w.DateAdded }, func(w models.WatchlistItem) string { return w.Source })

		winner := order[0]
		if strategy == config.StrategyMerge {
			for _, i := range order {
				if members[i].Status != "" {
					winner = i
					break
				}
			}
		}

		item := members[winner]
		item.IDs = mergeIDs(members, winner)
		if item.IMDBID == "" {
			item.IMDBID = item.IDs.IMDB
		}
		out = append(out, item)
	}
	return out
}

// ResolveRatings keeps one rating per title. Merge falls back to newest.
func (r *Resolver) ResolveRatings(items []models.Rating) []models.Rating {
	strategy := r.cfg.StrategyFor(models.DataRatings)
	groups := groupByIdentity(items, r.idx)

	out := make([]models.Rating, 0, len(groups))
	for _, group := range groups {
		members := pick(items, group)
		order := rank(members, strategy, r.cfg, func(x models.Rating) time.Time { return x.DateAdded }, func(x models.Rating) string { return x.Source })

		winner := order[0]
		item := members[winner]
		item.IDs = mergeIDs(members, winner)
		if item.IMDBID == "" {
			item.IMDBID = item.IDs.IMDB
		}
		out = append(out, item)
	}
	return out
}

// ResolveReviews keeps every review, collapsing identical text on the same title. Newest first.
func (r *Resolver) ResolveReviews(items []models.Review) []models.Review {
	var out []models.Review
	for _, review := range items {
		duplicate := false
		for _, existing := range out {
			if review.Content == existing.Content && diff.Match(review, existing, r.idx) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			out = append(out, review)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DateAdded.After(out[j].DateAdded)
	})
	return out
}

// ResolveWatchHistory keeps every play, collapsing plays of the same title within one second. Newest first.
func (r *Resolver) ResolveWatchHistory(items []models.WatchHistory) []models.WatchHistory {
	var out []models.WatchHistory
	buckets := make(map[int64][]int)

	for _, entry := range items {
		second := entry.WatchedAt.Unix()
		duplicate := false
	search:
		for _, s := range []int64{second - 1, second, second + 1} {
			for _, i := range buckets[s] {
				existing := out[i]
				delta := entry.WatchedAt.Sub(existing.WatchedAt)
				if delta < 0 {
					delta = -delta
				}
				if delta <= historyMatchWindow && diff.Match(entry, existing, r.idx) {
					duplicate = true
					break search
				}
			}
		}
		if duplicate {
			continue
		}
		buckets[second] = append(buckets[second], len(out))
		out = append(out, entry)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].WatchedAt.After(out[j].WatchedAt)
	})
	return out
}

func pick[T any](items []T, indices []int) []T {
	out := make([]T, len(indices))
	for i, idx := range indices {
		out[i] = items[idx]
	}
	return out
}

// rank returns member indices, best candidate first, for the given strategy.
// Oldest sorts ascending by date; every other strategy sorts newest first. Under
// Preference, when the two newest are within the tolerance window, the candidate
// from the most preferred source is moved to the front.
func rank[T any](members []T, strategy config.ResolutionStrategy, cfg config.ResolutionConfig, dateOf func(T) time.Time, sourceOf func(T) string) []int {
	order := make([]int, len(members))
	for i := range order {
		order[i] = i
	}

	if strategy == config.StrategyOldest {
		sort.SliceStable(order, func(a, b int) bool {
			return dateOf(members[order[a]]).Before(dateOf(members[order[b]]))
		})
		return order
	}

	sort.SliceStable(order, func(a, b int) bool {
		return dateOf(members[order[a]]).After(dateOf(members[order[b]]))
	})
	if strategy != config.StrategyPreference || len(order) < 2 {
		return order
	}

	gap := dateOf(members[order[0]]).Sub(dateOf(members[order[1]]))
	if gap > cfg.Tolerance() {
		return order
	}

	best := 0
	bestRank := cfg.PreferenceRank(sourceOf(members[order[0]]))
	for pos := 1; pos < len(order); pos++ {
		if r := cfg.PreferenceRank(sourceOf(members[order[pos]])); r < bestRank {
			best, bestRank = pos, r
		}
	}
	if best == 0 {
		return order
	}

	preferred := order[best]
	copy(order[1:best+1], order[:best])
	order[0] = preferred
	return order
}

func mergeIDs[T models.Identifiable](members []T, winner int) models.MediaIDs {
	ids := diff.EffectiveIDs(members[winner])
	for i, m := range members {
		if i != winner {
			ids.Merge(diff.EffectiveIDs(m))
		}
	}
	return ids
}
