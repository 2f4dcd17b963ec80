package resolver

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/amaumene/mediasync/internal/idcache"
	"github.com/amaumene/mediasync/internal/models"
	"github.com/amaumene/mediasync/internal/sources"
	"github.com/sirupsen/logrus"
)

// Lookup is the external search used on cache misses
type Lookup interface {
	LookupIDs(ctx context.Context, title string, year int, mediaType models.MediaType) (*models.MediaIDs, error)
	LookupByIMDB(ctx context.Context, imdbID string, mediaType models.MediaType) (*sources.LookupResult, error)
	AvailableProviders() []string
}

// Config controls when the cache is written to disk
type Config struct {
	// IncrementalSaves persists the cache every time SaveIfDirty is called
	IncrementalSaves bool
	// FullSaveInterval, when positive, also checkpoints the cache every N inserts
	FullSaveInterval int
}

// DefaultConfig saves at every SaveIfDirty call and never checkpoints mid-phase
func DefaultConfig() Config {
	return Config{IncrementalSaves: true}
}

// Resolver turns titles and partial identifiers into full MediaIDs records,
// backed by the identity cache and an optional external lookup
type Resolver struct {
	mu      sync.Mutex
	cache   *idcache.Cache
	storage *idcache.Storage
	lookup  Lookup
	cfg     Config
	logger  *logrus.Logger

	insertsSinceSave int
}

// New creates a resolver. lookup may be nil, in which case only the cache is consulted.
func New(cache *idcache.Cache, storage *idcache.Storage, lookup Lookup, cfg Config, logger *logrus.Logger) *Resolver {
	if cache == nil {
		cache = idcache.New()
	}
	return &Resolver{
		cache:   cache,
		storage: storage,
		lookup:  lookup,
		cfg:     cfg,
		logger:  logger,
	}
}

// Cache returns the underlying identity cache
func (r *Resolver) Cache() *idcache.Cache {
	return r.cache
}

// Resolve returns the best known identifiers for a title.
//
//  1. an imdb hint already cached wins;
//  2. then the title index;
//  3. then the external lookup, merged with whatever the cache knows about its answer;
//  4. then the hint alone, with metadata attached.
//
// An error is returned only when the lookup failed and nothing at all is known.
func (r *Resolver) Resolve(ctx context.Context, title string, year int, mediaType models.MediaType, hintIMDB string) (models.MediaIDs, error) {
	hintIMDB = strings.TrimSpace(hintIMDB)

	if hintIMDB != "" {
		if rec := r.cache.FindByAnyID(hintIMDB); rec != nil {
			return *rec, nil
		}
	}

	if rec := r.cache.FindByTitleYear(title, year, mediaType); rec != nil {
		return *rec, nil
	}

	partial := models.MediaIDs{IMDB: hintIMDB}
	var lookupErr error

	if r.lookup != nil && strings.TrimSpace(title) != "" {
		found, err := r.lookup.LookupIDs(ctx, title, year, mediaType)
		if err != nil {
			lookupErr = err
			r.logger.WithError(err).WithField("title", title).Debug("External ID lookup failed")
		} else if found != nil {
			ids := partial
			ids.Merge(*found)
			withMetadata(&ids, title, year, mediaType)
			if rec := r.insert(ids); rec != nil {
				return *rec, nil
			}
			return ids, nil
		}
	}

	if !partial.IsEmpty() {
		withMetadata(&partial, title, year, mediaType)
		if rec := r.insert(partial); rec != nil {
			return *rec, nil
		}
		return partial, nil
	}

	if lookupErr != nil {
		return partial, fmt.Errorf("failed to resolve %q: %w", title, lookupErr)
	}
	return partial, nil
}

// ResolveFromIMDB returns the title, year and identifiers of an imdb id,
// from the cache when it knows the title and from the external lookup otherwise.
func (r *Resolver) ResolveFromIMDB(ctx context.Context, imdbID string, mediaType models.MediaType) (*sources.LookupResult, error) {
	if rec := r.cache.FindByAnyID(imdbID); rec != nil && rec.Title != "" {
		return &sources.LookupResult{Title: rec.Title, Year: rec.Year, IDs: *rec}, nil
	}
	if r.lookup == nil {
		return nil, nil
	}

	result, err := r.lookup.LookupByIMDB(ctx, imdbID, mediaType)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", imdbID, err)
	}
	if result == nil {
		return nil, nil
	}

	ids := result.IDs
	if ids.IMDB == "" {
		ids.IMDB = imdbID
	}
	ids.Title = result.Title
	ids.Year = result.Year
	ids.Type = mediaType
	if rec := r.insert(ids); rec != nil {
		ids = *rec
	}
	return &sources.LookupResult{Title: result.Title, Year: result.Year, IDs: ids}, nil
}

// FindByAnyID looks an identifier up in the cache only
func (r *Resolver) FindByAnyID(id string) *models.MediaIDs {
	return r.cache.FindByAnyID(id)
}

// FindByIDs returns the cached record sharing any identifier with ids
func (r *Resolver) FindByIDs(ids models.MediaIDs) *models.MediaIDs {
	return r.cache.FindByIDs(ids)
}

// FindByTitleYear looks a title up in the cache only
func (r *Resolver) FindByTitleYear(title string, year int, mediaType models.MediaType) *models.MediaIDs {
	return r.cache.FindByTitleYear(title, year, mediaType)
}

// CacheIDs records identifiers learned from a source payload
func (r *Resolver) CacheIDs(ids models.MediaIDs) *models.MediaIDs {
	return r.insert(ids)
}

// CacheIDsWithMetadata records identifiers together with title metadata for the title index
func (r *Resolver) CacheIDsWithMetadata(ids models.MediaIDs, title string, year int, mediaType models.MediaType) *models.MediaIDs {
	withMetadata(&ids, title, year, mediaType)
	return r.insert(ids)
}

// AvailableProviders lists the lookup providers able to answer
func (r *Resolver) AvailableProviders() []string {
	if r.lookup == nil {
		return nil
	}
	return r.lookup.AvailableProviders()
}

// Len returns the number of cached records
func (r *Resolver) Len() int {
	return r.cache.Len()
}

// SaveIfDirty persists the cache when it changed. With incremental saves disabled and a
// positive FullSaveInterval, the write is deferred until enough inserts accumulated.
func (r *Resolver) SaveIfDirty() error {
	if !r.cache.IsDirty() {
		return nil
	}

	r.mu.Lock()
	pending := r.insertsSinceSave
	r.mu.Unlock()

	if !r.cfg.IncrementalSaves && r.cfg.FullSaveInterval > 0 && pending < r.cfg.FullSaveInterval {
		return nil
	}
	return r.Save()
}

// Save persists the cache unconditionally
func (r *Resolver) Save() error {
	if r.storage == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.storage.Save(r.cache); err != nil {
		return fmt.Errorf("failed to save ID cache: %w", err)
	}
	r.insertsSinceSave = 0
	return nil
}

func (r *Resolver) insert(ids models.MediaIDs) *models.MediaIDs {
	rec := r.cache.Insert(ids)
	if rec == nil {
		return nil
	}

	r.mu.Lock()
	r.insertsSinceSave++
	checkpoint := r.cfg.FullSaveInterval > 0 && r.insertsSinceSave >= r.cfg.FullSaveInterval
	r.mu.Unlock()

	if checkpoint {
		if err := r.Save(); err != nil {
			r.logger.WithError(err).Warn("Failed to checkpoint ID cache")
		}
	}
	return rec
}

func withMetadata(ids *models.MediaIDs, title string, year int, mediaType models.MediaType) {
	if ids.Title == "" {
		ids.Title = strings.TrimSpace(title)
	}
	if ids.Year == 0 {
		ids.Year = year
	}
	if ids.Type.IsZero() {
		ids.Type = mediaType
	}
}
