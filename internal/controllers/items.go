package controllers

import (
	"time"

	"github.com/amaumene/mediasync/internal/diff"
	"github.com/amaumene/mediasync/internal/models"
)

// itemTime returns the timestamp incremental windows compare against
func itemTime(item models.Identifiable) time.Time {
	switch v := item.(type) {
	case models.WatchlistItem:
		return v.DateAdded
	case models.Rating:
		return v.DateAdded
	case models.Review:
		return v.DateAdded
	case models.WatchHistory:
		return v.WatchedAt
	}
	return time.Time{}
}

func itemTitle(item models.Identifiable) string {
	switch v := item.(type) {
	case models.WatchlistItem:
		return v.Title
	case models.Rating:
		return v.Title
	case models.Review:
		return v.Title
	case models.WatchHistory:
		return v.Title
	}
	return ""
}

// excludedFrom describes an item left out of the sync
func excludedFrom(item models.Identifiable, reason string) models.ExcludedItem {
	ids := diff.EffectiveIDs(item)
	ex := models.ExcludedItem{
		Title:          itemTitle(item),
		IMDBID:         ids.IMDB,
		MediaServerKey: ids.MediaServerKey,
		Reason:         reason,
	}
	switch v := item.(type) {
	case models.WatchlistItem:
		added := v.DateAdded
		ex.MediaType, ex.Source, ex.DateAdded = v.MediaType.String(), v.Source, &added
	case models.Rating:
		ex.MediaType, ex.Source = v.MediaType.String(), v.Source
	case models.Review:
		ex.MediaType, ex.Source = v.MediaType.String(), v.Source
	case models.WatchHistory:
		ex.MediaType, ex.Source = v.MediaType.String(), v.Source
	}
	return ex
}

// changedSince reports whether an item falls in the incremental window. Timestamps at
// midnight UTC carry only a date and compare by date; items without a timestamp are kept.
func changedSince(t, since time.Time) bool {
	if t.IsZero() {
		return true
	}
	t = t.UTC()
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return !t.Before(truncateDay(since.UTC()))
	}
	return t.After(since)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// splitSince partitions items into those changed since the given time and the rest
func splitSince[T models.Identifiable](items []T, since time.Time) (kept, dropped []T) {
	for _, item := range items {
		if changedSince(itemTime(item), since) {
			kept = append(kept, item)
		} else {
			dropped = append(dropped, item)
		}
	}
	return kept, dropped
}

func itemYear(item models.Identifiable) int {
	switch v := item.(type) {
	case models.WatchlistItem:
		return v.Year
	case models.Rating:
		return v.Year
	case models.Review:
		return v.Year
	case models.WatchHistory:
		return v.Year
	}
	return 0
}

func itemMediaType(item models.Identifiable) models.MediaType {
	switch v := item.(type) {
	case models.WatchlistItem:
		return v.MediaType
	case models.Rating:
		return v.MediaType
	case models.Review:
		return v.MediaType
	case models.WatchHistory:
		return v.MediaType
	}
	return models.MediaType{}
}

// withIdentity returns a copy of item carrying ids, and title and year when it had none
func withIdentity[T models.Identifiable](item T, ids models.MediaIDs) T {
	var out any = item
	switch v := out.(type) {
	case models.WatchlistItem:
		v.IDs, v.IMDBID = ids, ids.IMDB
		v.Title, v.Year = orTitle(v.Title, ids), orYear(v.Year, ids)
		out = v
	case models.Rating:
		v.IDs, v.IMDBID = ids, ids.IMDB
		v.Title, v.Year = orTitle(v.Title, ids), orYear(v.Year, ids)
		out = v
	case models.Review:
		v.IDs, v.IMDBID = ids, ids.IMDB
		v.Title, v.Year = orTitle(v.Title, ids), orYear(v.Year, ids)
		out = v
	case models.WatchHistory:
		v.IDs, v.IMDBID = ids, ids.IMDB
		v.Title, v.Year = orTitle(v.Title, ids), orYear(v.Year, ids)
		out = v
	}
	return out.(T)
}

func orTitle(title string, ids models.MediaIDs) string {
	if title != "" {
		return title
	}
	return ids.Title
}

func orYear(year int, ids models.MediaIDs) int {
	if year != 0 {
		return year
	}
	return ids.Year
}

func itemSource(item models.Identifiable) string {
	switch v := item.(type) {
	case models.WatchlistItem:
		return v.Source
	case models.Rating:
		return v.Source
	case models.Review:
		return v.Source
	case models.WatchHistory:
		return v.Source
	}
	return ""
}
