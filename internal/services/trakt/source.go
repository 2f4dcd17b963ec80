package trakt

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync/atomic"

	"github.com/amaumene/mediasync/internal/config"
	"github.com/amaumene/mediasync/internal/models"
	"github.com/amaumene/mediasync/internal/sources"
	"github.com/sirupsen/logrus"
)

const (
	lookupPriority = 80
	historyStatus  = "watch_history"
)

// Source adapts the Trakt client to the source contract
type Source struct {
	client        *Client
	mapping       config.StatusMappingConfig
	logger        *logrus.Logger
	authenticated atomic.Bool
}

var (
	_ sources.Source              = (*Source)(nil)
	_ sources.IDLookupProvider    = (*Source)(nil)
	_ sources.RatingNormalization = (*Source)(nil)
	_ sources.StatusMapping       = (*Source)(nil)
	_ sources.StatusRouting       = (*Source)(nil)
	_ sources.InteractiveAuth     = (*Source)(nil)
	_ sources.IDExtraction        = (*Source)(nil)
)

// NewSource creates the Trakt source
func NewSource(client *Client, mapping config.StatusMappingConfig, logger *logrus.Logger) *Source {
	return &Source{client: client, mapping: mapping, logger: logger}
}

func (s *Source) Name() string { return sourceName }

// Authenticate loads the stored token, refreshing it when close to expiry, and verifies it
func (s *Source) Authenticate(ctx context.Context) error {
	token, err := s.client.GetToken()
	if err != nil {
		return fmt.Errorf("%w: trakt is not authorized, run `mediasync auth trakt`", sources.ErrAuthFailed)
	}

	if token.Expired(refreshMargin) {
		if err := s.client.RefreshToken(ctx); err != nil {
			return fmt.Errorf("%w: %v", sources.ErrAuthFailed, err)
		}
	}

	settings, err := s.client.GetUserSettings(ctx)
	if err != nil {
		return err
	}

	s.authenticated.Store(true)
	s.logger.WithField("user", settings.User.Username).Info("Authenticated to Trakt")
	return nil
}

// Login runs the interactive device authorization
func (s *Source) Login(ctx context.Context, out io.Writer) error {
	if err := s.client.DeviceLogin(ctx, out); err != nil {
		return err
	}
	return s.Authenticate(ctx)
}

func (s *Source) IsAuthenticated() bool { return s.authenticated.Load() }

func (s *Source) GetWatchlist(ctx context.Context) ([]models.WatchlistItem, error) {
	return s.client.GetWatchlist(ctx)
}

func (s *Source) GetRatings(ctx context.Context) ([]models.Rating, error) {
	return s.client.GetRatings(ctx)
}

func (s *Source) GetReviews(ctx context.Context) ([]models.Review, error) {
	return s.client.GetReviews(ctx)
}

func (s *Source) GetWatchHistory(ctx context.Context) ([]models.WatchHistory, error) {
	return s.client.GetWatchHistory(ctx)
}

func (s *Source) AddToWatchlist(ctx context.Context, items []models.WatchlistItem) error {
	return s.client.AddToWatchlist(ctx, items)
}

func (s *Source) RemoveFromWatchlist(ctx context.Context, items []models.WatchlistItem) error {
	return s.client.RemoveFromWatchlist(ctx, items)
}

func (s *Source) SetRatings(ctx context.Context, ratings []models.Rating) error {
	return s.client.SetRatings(ctx, ratings)
}

func (s *Source) SetReviews(ctx context.Context, reviews []models.Review) error {
	return s.client.AddReviews(ctx, reviews)
}

func (s *Source) AddWatchHistory(ctx context.Context, items []models.WatchHistory) error {
	return s.client.AddWatchHistory(ctx, items)
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

// RoutesToHistory reports whether Trakt records status as a play rather than a watchlist entry
func (s *Source) RoutesToHistory(status models.NormalizedStatus) bool {
	native, ok := s.FromNormalized(status)
	return ok && native == historyStatus
}

// AcceptsHistory reports whether a play of the given type can be recorded. Shows cannot.
func (s *Source) AcceptsHistory(mt models.MediaType) bool {
	return !mt.IsShow()
}

// ExtractIDs builds identifiers from a Trakt ids object
func (s *Source) ExtractIDs(imdbID string, native []byte) *models.MediaIDs {
	return extractIDs(imdbID, native)
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
