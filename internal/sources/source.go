package sources

import (
	"context"
	"io"

	"github.com/amaumene/mediasync/internal/models"
)

// Source is the contract every tracking service adapter implements
type Source interface {
	Name() string

	Authenticate(ctx context.Context) error
	IsAuthenticated() bool

	GetWatchlist(ctx context.Context) ([]models.WatchlistItem, error)
	GetRatings(ctx context.Context) ([]models.Rating, error)
	GetReviews(ctx context.Context) ([]models.Review, error)
	GetWatchHistory(ctx context.Context) ([]models.WatchHistory, error)

	AddToWatchlist(ctx context.Context, items []models.WatchlistItem) error
	RemoveFromWatchlist(ctx context.Context, items []models.WatchlistItem) error
	SetRatings(ctx context.Context, ratings []models.Rating) error
	SetReviews(ctx context.Context, reviews []models.Review) error
	AddWatchHistory(ctx context.Context, items []models.WatchHistory) error

	Cleanup(ctx context.Context) error
}

// IncrementalSync is implemented by sources that can fetch only recent changes
type IncrementalSync interface {
	SupportsNativeIncremental() bool
	SetForceFullSync(force bool)
}

// RatingNormalization converts between a source's native scale and the 1..10 scale
type RatingNormalization interface {
	NormalizeRating(native float64) uint8
	DenormalizeRating(rating uint8) float64
	NativeRatingScale() uint8
}

// StatusMapping converts between native status names and NormalizedStatus
type StatusMapping interface {
	ToNormalized(native string) (models.NormalizedStatus, bool)
	FromNormalized(status models.NormalizedStatus) (string, bool)
}

// IDExtraction builds a MediaIDs record from a native payload
type IDExtraction interface {
	ExtractIDs(imdbID string, native []byte) *models.MediaIDs
	NativeIDType() string
}

// LookupResult is a reverse lookup answer
type LookupResult struct {
	Title string
	Year  int
	IDs   models.MediaIDs
}

// IDLookupProvider resolves titles to identifiers. A nil result with a nil error means not found.
type IDLookupProvider interface {
	LookupIDs(ctx context.Context, title string, year int, mediaType models.MediaType) (*models.MediaIDs, error)
	LookupByIMDB(ctx context.Context, imdbID string, mediaType models.MediaType) (*LookupResult, error)
	LookupPriority() int
	LookupProviderName() string
	IsLookupAvailable() bool
}

// StatusRouting is implemented by targets that record some watchlist statuses as watch history
type StatusRouting interface {
	RoutesToHistory(status models.NormalizedStatus) bool
	AcceptsHistory(mediaType models.MediaType) bool
}

// InteractiveAuth is implemented by sources whose authorization needs the user
type InteractiveAuth interface {
	Login(ctx context.Context, out io.Writer) error
}

// AsInteractiveAuth returns the capability, if the source has it
func AsInteractiveAuth(s Source) (InteractiveAuth, bool) {
	c, ok := s.(InteractiveAuth)
	return c, ok
}

// AsIncrementalSync returns the capability, if the source has it
func AsIncrementalSync(s Source) (IncrementalSync, bool) {
	c, ok := s.(IncrementalSync)
	return c, ok
}

// AsRatingNormalization returns the capability, if the source has it
func AsRatingNormalization(s Source) (RatingNormalization, bool) {
	c, ok := s.(RatingNormalization)
	return c, ok
}

// AsIDLookupProvider returns the capability, if the source has it
func AsIDLookupProvider(s Source) (IDLookupProvider, bool) {
	c, ok := s.(IDLookupProvider)
	return c, ok
}

// AsStatusRouting returns the capability, if the source has it
func AsStatusRouting(s Source) (StatusRouting, bool) {
	c, ok := s.(StatusRouting)
	return c, ok
}

// SupportsNativeIncremental reports whether a source filters by time on its own
func SupportsNativeIncremental(s Source) bool {
	inc, ok := AsIncrementalSync(s)
	return ok && inc.SupportsNativeIncremental()
}

// LookupProviders collects the lookup capability of every source that has one
func LookupProviders(list []Source) []IDLookupProvider {
	var providers []IDLookupProvider
	for _, s := range list {
		if p, ok := AsIDLookupProvider(s); ok {
			providers = append(providers, p)
		}
	}
	return providers
}
