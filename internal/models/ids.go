package models

import (
	"strconv"
	"time"
)

// MediaIDs holds every known identifier for one title across services.
// Zero values mean the identifier is unknown.
type MediaIDs struct {
	IMDB           string `json:"imdb,omitempty"`
	Trakt          uint64 `json:"trakt,omitempty"`
	Simkl          uint64 `json:"simkl,omitempty"`
	TMDB           uint32 `json:"tmdb,omitempty"`
	TVDB           uint32 `json:"tvdb,omitempty"`
	Slug           string `json:"slug,omitempty"`
	MediaServerKey string `json:"plex_rating_key,omitempty"`

	// Metadata used for title-based matching
	Title string    `json:"title,omitempty"`
	Year  int       `json:"year,omitempty"`
	Type  MediaType `json:"media_type"`

	// Episode metadata
	ShowTitle    string     `json:"show_title,omitempty"`
	EpisodeTitle string     `json:"episode_title,omitempty"`
	AirDate      *time.Time `json:"air_date,omitempty"`
}

// Key prefixes used when a record is indexed by identifier
const (
	KeyIMDB  = "imdb:"
	KeyTrakt = "trakt:"
	KeySimkl = "simkl:"
	KeyTMDB  = "tmdb:"
	KeyTVDB  = "tvdb:"
	KeySlug  = "slug:"
	KeyPlex  = "plex:"
)

// IsEmpty reports whether no identifier is set. Metadata is ignored.
func (m MediaIDs) IsEmpty() bool {
	return m.IMDB == "" &&
		m.Trakt == 0 &&
		m.Simkl == 0 &&
		m.TMDB == 0 &&
		m.TVDB == 0 &&
		m.Slug == "" &&
		m.MediaServerKey == ""
}

// Merge fills every unset slot of m from other. Set slots are never overwritten.
func (m *MediaIDs) Merge(other MediaIDs) {
	if m.IMDB == "" {
		m.IMDB = other.IMDB
	}
	if m.Trakt == 0 {
		m.Trakt = other.Trakt
	}
	if m.Simkl == 0 {
		m.Simkl = other.Simkl
	}
	if m.TMDB == 0 {
		m.TMDB = other.TMDB
	}
	if m.TVDB == 0 {
		m.TVDB = other.TVDB
	}
	if m.Slug == "" {
		m.Slug = other.Slug
	}
	if m.MediaServerKey == "" {
		m.MediaServerKey = other.MediaServerKey
	}
	if m.Title == "" {
		m.Title = other.Title
	}
	if m.Year == 0 {
		m.Year = other.Year
	}
	if m.Type.IsZero() {
		m.Type = other.Type
	}
	if m.ShowTitle == "" {
		m.ShowTitle = other.ShowTitle
	}
	if m.EpisodeTitle == "" {
		m.EpisodeTitle = other.EpisodeTitle
	}
	if m.AirDate == nil && other.AirDate != nil {
		airDate := *other.AirDate
		m.AirDate = &airDate
	}
}

// AnyID returns the best single identifier in the form accepted by FindByAnyID.
// Priority: imdb, trakt, simkl, tmdb, tvdb, slug, media server key.
func (m MediaIDs) AnyID() string {
	switch {
	case m.IMDB != "":
		return m.IMDB
	case m.Trakt != 0:
		return KeyTrakt + strconv.FormatUint(m.Trakt, 10)
	case m.Simkl != 0:
		return KeySimkl + strconv.FormatUint(m.Simkl, 10)
	case m.TMDB != 0:
		return KeyTMDB + strconv.FormatUint(uint64(m.TMDB), 10)
	case m.TVDB != 0:
		return KeyTVDB + strconv.FormatUint(uint64(m.TVDB), 10)
	case m.Slug != "":
		return m.Slug
	default:
		return m.MediaServerKey
	}
}

// Keys returns one namespaced key per populated identifier, in lookup priority order.
func (m MediaIDs) Keys() []string {
	keys := make([]string, 0, 7)
	if m.IMDB != "" {
		keys = append(keys, KeyIMDB+m.IMDB)
	}
	if m.Trakt != 0 {
		keys = append(keys, KeyTrakt+strconv.FormatUint(m.Trakt, 10))
	}
	if m.Simkl != 0 {
		keys = append(keys, KeySimkl+strconv.FormatUint(m.Simkl, 10))
	}
	if m.TMDB != 0 {
		keys = append(keys, KeyTMDB+strconv.FormatUint(uint64(m.TMDB), 10))
	}
	if m.TVDB != 0 {
		keys = append(keys, KeyTVDB+strconv.FormatUint(uint64(m.TVDB), 10))
	}
	if m.Slug != "" {
		keys = append(keys, KeySlug+m.Slug)
	}
	if m.MediaServerKey != "" {
		keys = append(keys, KeyPlex+m.MediaServerKey)
	}
	return keys
}

// SharesID reports whether m and other agree on at least one identifier.
func (m MediaIDs) SharesID(other MediaIDs) bool {
	switch {
	case m.IMDB != "" && m.IMDB == other.IMDB:
		return true
	case m.Trakt != 0 && m.Trakt == other.Trakt:
		return true
	case m.Simkl != 0 && m.Simkl == other.Simkl:
		return true
	case m.TMDB != 0 && m.TMDB == other.TMDB:
		return true
	case m.TVDB != 0 && m.TVDB == other.TVDB:
		return true
	case m.Slug != "" && m.Slug == other.Slug:
		return true
	case m.MediaServerKey != "" && m.MediaServerKey == other.MediaServerKey:
		return true
	}
	return false
}

// ConflictsWith reports whether m and other hold different values in the same identifier
// slot, which means they cannot describe the same title.
func (m MediaIDs) ConflictsWith(other MediaIDs) bool {
	return (m.IMDB != "" && other.IMDB != "" && m.IMDB != other.IMDB) ||
		(m.Trakt != 0 && other.Trakt != 0 && m.Trakt != other.Trakt) ||
		(m.Simkl != 0 && other.Simkl != 0 && m.Simkl != other.Simkl) ||
		(m.TMDB != 0 && other.TMDB != 0 && m.TMDB != other.TMDB) ||
		(m.TVDB != 0 && other.TVDB != 0 && m.TVDB != other.TVDB) ||
		(m.Slug != "" && other.Slug != "" && m.Slug != other.Slug) ||
		(m.MediaServerKey != "" && other.MediaServerKey != "" && m.MediaServerKey != other.MediaServerKey)
}

// HasID reports whether the identifier of the given kind ("imdb", "trakt", "simkl", "tmdb",
// "tvdb", "slug" or "plex") is set.
func (m MediaIDs) HasID(kind string) bool {
	switch kind {
	case "imdb":
		return m.IMDB != ""
	case "trakt":
		return m.Trakt != 0
	case "simkl":
		return m.Simkl != 0
	case "tmdb":
		return m.TMDB != 0
	case "tvdb":
		return m.TVDB != 0
	case "slug":
		return m.Slug != ""
	case "plex":
		return m.MediaServerKey != ""
	}
	return false
}

// BestIDFor returns the identifier a source understands best: its native id when known,
// otherwise AnyID.
func (m MediaIDs) BestIDFor(source string) string {
	switch {
	case source == "trakt" && m.Trakt != 0:
		return strconv.FormatUint(m.Trakt, 10)
	case source == "simkl" && m.Simkl != 0:
		return strconv.FormatUint(m.Simkl, 10)
	case source == "plex" && m.MediaServerKey != "":
		return m.MediaServerKey
	}
	return m.AnyID()
}
