package simkl

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/amaumene/mediasync/internal/config"
	"github.com/amaumene/mediasync/internal/models"
	"github.com/amaumene/mediasync/internal/sources"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

const (
	lookupPriority = 70
	defaultList    = "plantowatch"
	activityPrefix = "simkl_activities_"
)

// StateStore persists activity fingerprints between runs
type StateStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// Source adapts the Simkl client to the source contract
type Source struct {
	client        *Client
	state         StateStore
	mapping       config.StatusMappingConfig
	logger        *logrus.Logger
	authenticated atomic.Bool
	forceFull     atomic.Bool
}

var (
	_ sources.Source              = (*Source)(nil)
	_ sources.IncrementalSync     = (*Source)(nil)
	_ sources.IDLookupProvider    = (*Source)(nil)
	_ sources.RatingNormalization = (*Source)(nil)
	_ sources.StatusMapping       = (*Source)(nil)
	_ sources.IDExtraction        = (*Source)(nil)
	_ sources.InteractiveAuth     = (*Source)(nil)
)

// NewSource creates the Simkl source
func NewSource(client *Client, state StateStore, mapping config.StatusMappingConfig, logger *logrus.Logger) *Source {
	return &Source{client: client, state: state, mapping: mapping, logger: logger}
}

func (s *Source) Name() string { return sourceName }

// Authenticate checks that a token is stored and accepted
func (s *Source) Authenticate(ctx context.Context) error {
	if _, err := s.client.GetToken(); err != nil {
		return fmt.Errorf("%w: simkl is not authorized, run `mediasync auth simkl`", sources.ErrAuthFailed)
	}
	if _, err := s.client.GetActivities(ctx); err != nil {
		return err
	}
	s.authenticated.Store(true)
	s.logger.Info("Authenticated to Simkl")
	return nil
}

// Login runs the interactive PIN authorization
func (s *Source) Login(ctx context.Context, out io.Writer) error {
	if err := s.client.PinLogin(ctx, out); err != nil {
		return err
	}
	return s.Authenticate(ctx)
}

func (s *Source) IsAuthenticated() bool { return s.authenticated.Load() }

func (s *Source) SupportsNativeIncremental() bool { return true }

func (s *Source) SetForceFullSync(force bool) { s.forceFull.Store(force) }

// window is the incremental fetch range of one collection
type window struct {
	from        time.Time
	unchanged   bool
	key         string
	fingerprint string
}

// window compares the current activity fingerprint of a collection with the stored one.
// Without a stored fingerprint, or when forced, the whole collection is fetched.
func (s *Source) window(ctx context.Context, dataType models.DataType) window {
	w := window{key: activityPrefix + string(dataType)}

	activities, err := s.client.GetActivities(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to check Simkl activities, falling back to full sync")
		return w
	}
	w.fingerprint = activities.Fingerprint(dataType)

	saved, ok := s.state.Get(w.key)
	if s.forceFull.Load() || !ok {
		return w
	}
	if saved == w.fingerprint {
		w.unchanged = true
		return w
	}
	for _, part := range strings.Split(saved, "|") {
		if t := parseTime(part); t.After(w.from) {
			w.from = t
		}
	}
	return w
}

func (s *Source) commit(w window) {
	if w.fingerprint == "" {
		return
	}
	if err := s.state.Set(w.key, w.fingerprint); err != nil {
		s.logger.WithError(err).Warn("Failed to store Simkl activities")
	}
}

func (s *Source) GetWatchlist(ctx context.Context) ([]models.WatchlistItem, error) {
	w := s.window(ctx, models.DataWatchlist)
	if w.unchanged {
		s.logger.Debug("Simkl watchlist unchanged since last sync")
		return nil, nil
	}

	all, err := s.client.GetAllItems(ctx, w.from)
	if err != nil {
		return nil, err
	}

	var items []models.WatchlistItem
	all.each(func(entry SimklItem) {
		media, mt, ok := entry.media()
		if !ok {
			return
		}
		extracted := s.ExtractIDs("", media.IDs)
		if extracted == nil {
			return
		}
		ids := *extracted
		ids.Title, ids.Year, ids.Type = media.Title, media.Year, mt
		status, _ := s.ToNormalized(entry.Status)
		items = append(items, models.WatchlistItem{
			IMDBID:    ids.IMDB,
			IDs:       ids,
			Title:     media.Title,
			Year:      media.Year,
			MediaType: mt,
			DateAdded: parseTime(entry.AddedToWatchlistAt),
			Source:    sourceName,
			Status:    status,
		})
	})

	s.commit(w)
	return items, nil
}

func (s *Source) GetRatings(ctx context.Context) ([]models.Rating, error) {
	w := s.window(ctx, models.DataRatings)
	if w.unchanged {
		s.logger.Debug("Simkl ratings unchanged since last sync")
		return nil, nil
	}

	all, err := s.client.GetRatedItems(ctx, w.from)
	if err != nil {
		return nil, err
	}

	var ratings []models.Rating
	all.each(func(entry SimklItem) {
		media, mt, ok := entry.media()
		if !ok || entry.UserRating == 0 {
			return
		}
		extracted := s.ExtractIDs("", media.IDs)
		if extracted == nil {
			return
		}
		ids := *extracted
		ids.Title, ids.Year, ids.Type = media.Title, media.Year, mt
		ratings = append(ratings, models.Rating{
			IMDBID:    ids.IMDB,
			IDs:       ids,
			Title:     media.Title,
			Year:      media.Year,
			Rating:    s.NormalizeRating(float64(entry.UserRating)),
			DateAdded: parseTime(entry.UserRatedAt),
			MediaType: mt,
			Source:    sourceName,
		})
	})

	s.commit(w)
	return ratings, nil
}

// GetReviews returns nothing; Simkl has no review API
func (s *Source) GetReviews(ctx context.Context) ([]models.Review, error) {
	return nil, nil
}

func (s *Source) GetWatchHistory(ctx context.Context) ([]models.WatchHistory, error) {
	w := s.window(ctx, models.DataHistory)
	if w.unchanged {
		s.logger.Debug("Simkl watch history unchanged since last sync")
		return nil, nil
	}

	all, err := s.client.GetAllItems(ctx, w.from)
	if err != nil {
		return nil, err
	}

	var history []models.WatchHistory
	all.each(func(entry SimklItem) {
		if entry.LastWatchedAt == "" {
			return
		}
		media, mt, ok := entry.media()
		if !ok {
			return
		}
		extracted := s.ExtractIDs("", media.IDs)
		if extracted == nil {
			return
		}
		ids := *extracted
		ids.Title, ids.Year, ids.Type = media.Title, media.Year, mt
		history = append(history, models.WatchHistory{
			IMDBID:    ids.IMDB,
			IDs:       ids,
			Title:     media.Title,
			Year:      media.Year,
			WatchedAt: parseTime(entry.LastWatchedAt),
			MediaType: mt,
			Source:    sourceName,
		})
	})

	s.commit(w)
	return history, nil
}

func (s *Source) AddToWatchlist(ctx context.Context, items []models.WatchlistItem) error {
	return s.client.AddToList(ctx, items, func(item models.WatchlistItem) string {
		if native, ok := s.FromNormalized(item.Status); ok && native != "" {
			return native
		}
		return defaultList
	})
}

func (s *Source) RemoveFromWatchlist(ctx context.Context, items []models.WatchlistItem) error {
	return s.client.RemoveFromList(ctx, items)
}

func (s *Source) SetRatings(ctx context.Context, ratings []models.Rating) error {
	return s.client.AddRatings(ctx, ratings, func(r uint8) uint8 {
		return uint8(math.Round(s.DenormalizeRating(r)))
	})
}

// SetReviews is not supported by Simkl
func (s *Source) SetReviews(ctx context.Context, reviews []models.Review) error {
	if len(reviews) == 0 {
		return nil
	}
	return fmt.Errorf("simkl reviews: %w", sources.ErrNotSupported)
}

func (s *Source) AddWatchHistory(ctx context.Context, items []models.WatchHistory) error {
	return s.client.AddHistory(ctx, items)
}

func (s *Source) Cleanup(ctx context.Context) error { return nil }

// NormalizeRating rounds a native rating onto 1..10
func (s *Source) NormalizeRating(native float64) uint8 {
	return uint8(math.Max(1, math.Min(10, math.Round(native))))
}

func (s *Source) DenormalizeRating(rating uint8) float64 { return float64(rating) }

func (s *Source) NativeRatingScale() uint8 { return 10 }

func (s *Source) ToNormalized(native string) (models.NormalizedStatus, bool) {
	return s.mapping.ToNormalizedStatus(native)
}

func (s *Source) FromNormalized(status models.NormalizedStatus) (string, bool) {
	return s.mapping.FromNormalizedStatus(status)
}

// ExtractIDs builds identifiers from a Simkl ids object
func (s *Source) ExtractIDs(imdbID string, native []byte) *models.MediaIDs {
	ids := models.MediaIDs{IMDB: imdbID}
	if len(native) > 0 {
		var raw SimklIDs
		if err := json.Unmarshal(native, &raw); err == nil {
			ids.Merge(raw.toModel())
		}
	}
	if ids.IsEmpty() {
		return nil
	}
	return &ids
}

func (s *Source) NativeIDType() string { return sourceName }

func (s *Source) LookupIDs(ctx context.Context, title string, year int, mt models.MediaType) (*models.MediaIDs, error) {
	return s.client.SearchTitle(ctx, title, year, mt)
}

func (s *Source) LookupByIMDB(ctx context.Context, imdbID string, mt models.MediaType) (*sources.LookupResult, error) {
	return s.client.SearchIMDB(ctx, imdbID, mt)
}

func (s *Source) LookupPriority() int { return lookupPriority }

func (s *Source) LookupProviderName() string { return sourceName }

func (s *Source) IsLookupAvailable() bool { return s.IsAuthenticated() }
