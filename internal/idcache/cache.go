package idcache

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/amaumene/mediasync/internal/models"
	"github.com/amaumene/mediasync/internal/utils"
)

type titleKey struct {
	title string
	year  int
	kind  string
}

func titleKeyFor(title string, year int, mediaType models.MediaType) titleKey {
	return titleKey{
		title: utils.NormalizeTitle(title),
		year:  year,
		kind:  mediaType.String(),
	}
}

// Cache maps every known identifier to one canonical MediaIDs record.
// Records are never mutated once published: a merge replaces the record and
// repoints every key of the old records at the new one.
type Cache struct {
	mu      sync.RWMutex
	byKey   map[string]*models.MediaIDs
	byTitle map[titleKey]*models.MediaIDs
	records map[*models.MediaIDs]struct{}
	dirty   bool
}

// New creates an empty cache
func New() *Cache {
	return &Cache{
		byKey:   make(map[string]*models.MediaIDs),
		byTitle: make(map[titleKey]*models.MediaIDs),
		records: make(map[*models.MediaIDs]struct{}),
	}
}

// Insert adds ids, merging it with every record it shares an identifier with.
// A colliding record that disagrees with the merge on some identifier is left as it is,
// and the identifiers of ids it owns are not taken over.
// It returns the canonical record, or nil when ids carries no identifier.
func (c *Cache) Insert(ids models.MediaIDs) *models.MediaIDs {
	keys := ids.Keys()
	if len(keys) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var colliding []*models.MediaIDs
	seen := make(map[*models.MediaIDs]struct{})
	for _, key := range keys {
		rec, ok := c.byKey[key]
		if !ok {
			continue
		}
		if _, dup := seen[rec]; dup {
			continue
		}
		seen[rec] = struct{}{}
		colliding = append(colliding, rec)
	}

	var merged models.MediaIDs
	var absorbed []*models.MediaIDs
	kept := make(map[*models.MediaIDs]struct{})
	for i, rec := range colliding {
		if i > 0 && merged.ConflictsWith(*rec) {
			kept[rec] = struct{}{}
			continue
		}
		merged.Merge(*rec)
		absorbed = append(absorbed, rec)
	}
	merged.Merge(c.unowned(ids, kept))

	if len(absorbed) == 1 && *absorbed[0] == merged {
		return absorbed[0]
	}

	for _, rec := range absorbed {
		c.unlink(rec)
	}

	canonical := &merged
	c.link(canonical)
	c.dirty = true
	return canonical
}

// unowned returns ids without the identifiers already indexed to one of the kept records
func (c *Cache) unowned(ids models.MediaIDs, kept map[*models.MediaIDs]struct{}) models.MediaIDs {
	if len(kept) == 0 {
		return ids
	}
	owned := func(key string) bool {
		_, ok := kept[c.byKey[key]]
		return ok
	}
	out := ids
	if ids.IMDB != "" && owned(models.KeyIMDB+ids.IMDB) {
		out.IMDB = ""
	}
	if ids.Trakt != 0 && owned(models.KeyTrakt+strconv.FormatUint(ids.Trakt, 10)) {
		out.Trakt = 0
	}
	if ids.Simkl != 0 && owned(models.KeySimkl+strconv.FormatUint(ids.Simkl, 10)) {
		out.Simkl = 0
	}
	if ids.TMDB != 0 && owned(models.KeyTMDB+strconv.FormatUint(uint64(ids.TMDB), 10)) {
		out.TMDB = 0
	}
	if ids.TVDB != 0 && owned(models.KeyTVDB+strconv.FormatUint(uint64(ids.TVDB), 10)) {
		out.TVDB = 0
	}
	if ids.Slug != "" && owned(models.KeySlug+ids.Slug) {
		out.Slug = ""
	}
	if ids.MediaServerKey != "" && owned(models.KeyPlex+ids.MediaServerKey) {
		out.MediaServerKey = ""
	}
	return out
}

func (c *Cache) link(rec *models.MediaIDs) {
	for _, key := range rec.Keys() {
		c.byKey[key] = rec
	}
	if strings.TrimSpace(rec.Title) != "" {
		key := titleKeyFor(rec.Title, rec.Year, rec.Type)
		if _, taken := c.byTitle[key]; !taken {
			c.byTitle[key] = rec
		}
	}
	c.records[rec] = struct{}{}
}

func (c *Cache) unlink(rec *models.MediaIDs) {
	delete(c.records, rec)
	if strings.TrimSpace(rec.Title) == "" {
		return
	}
	key := titleKeyFor(rec.Title, rec.Year, rec.Type)
	if c.byTitle[key] == rec {
		delete(c.byTitle, key)
	}
}

// FindByAnyID resolves an identifier string to its canonical record.
// "tt..." is an imdb id; "trakt:", "simkl:", "tmdb:" and "tvdb:" select a numeric space;
// anything else is tried as slug, media server key, then bare imdb id.
func (c *Cache) FindByAnyID(id string) *models.MediaIDs {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	switch {
	case strings.HasPrefix(id, "tt"):
		return c.byKey[models.KeyIMDB+id]
	case strings.HasPrefix(id, models.KeyTrakt),
		strings.HasPrefix(id, models.KeySimkl),
		strings.HasPrefix(id, models.KeyTMDB),
		strings.HasPrefix(id, models.KeyTVDB):
		return c.byKey[id]
	}

	for _, prefix := range []string{models.KeySlug, models.KeyPlex, models.KeyIMDB} {
		if rec, ok := c.byKey[prefix+id]; ok {
			return rec
		}
	}
	return nil
}

// FindByIDs returns the canonical record for the first identifier of ids found in the cache
func (c *Cache) FindByIDs(ids models.MediaIDs) *models.MediaIDs {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, key := range ids.Keys() {
		if rec, ok := c.byKey[key]; ok {
			return rec
		}
	}
	return nil
}

// FindByTitleYear looks a record up by title, year and media type
func (c *Cache) FindByTitleYear(title string, year int, mediaType models.MediaType) *models.MediaIDs {
	if strings.TrimSpace(title) == "" {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byTitle[titleKeyFor(title, year, mediaType)]
}

// RebuildTitleIndex recomputes the title index from the records
func (c *Cache) RebuildTitleIndex() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.byTitle = make(map[titleKey]*models.MediaIDs, len(c.records))
	for rec := range c.records {
		if strings.TrimSpace(rec.Title) != "" {
			c.byTitle[titleKeyFor(rec.Title, rec.Year, rec.Type)] = rec
		}
	}
}

// Snapshot returns a copy of every distinct record, ordered by AnyID
func (c *Cache) Snapshot() []models.MediaIDs {
	c.mu.RLock()
	out := make([]models.MediaIDs, 0, len(c.records))
	for rec := range c.records {
		out = append(out, *rec)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].AnyID() < out[j].AnyID()
	})
	return out
}

// Len returns the number of distinct records
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// TitleIndexLen returns the number of title index entries
func (c *Cache) TitleIndexLen() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byTitle)
}

// IsDirty reports whether the cache changed since the last MarkClean
func (c *Cache) IsDirty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dirty
}

// MarkClean resets the dirty flag after a save
func (c *Cache) MarkClean() {
	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()
}
