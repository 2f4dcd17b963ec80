package models

import (
	"fmt"
	"strconv"
	"strings"
)

// MediaKind is the coarse type of a title
type MediaKind string

const (
	KindMovie   MediaKind = "movie"
	KindShow    MediaKind = "show"
	KindEpisode MediaKind = "episode"
)

// MediaType is a movie, a show, or one episode of a show
type MediaType struct {
	Kind    MediaKind
	Season  int
	Episode int
}

var (
	MediaTypeMovie = MediaType{Kind: KindMovie}
	MediaTypeShow  = MediaType{Kind: KindShow}
)

// EpisodeType builds the media type of one episode
func EpisodeType(season, episode int) MediaType {
	return MediaType{Kind: KindEpisode, Season: season, Episode: episode}
}

// IsZero reports whether the type is unknown
func (t MediaType) IsZero() bool {
	return t.Kind == ""
}

// IsMovie reports whether the type is a movie
func (t MediaType) IsMovie() bool { return t.Kind == KindMovie }

// IsShow reports whether the type is a show
func (t MediaType) IsShow() bool { return t.Kind == KindShow }

// IsEpisode reports whether the type is an episode
func (t MediaType) IsEpisode() bool { return t.Kind == KindEpisode }

// String renders the type as "movie", "show" or "episode:S:E"
func (t MediaType) String() string {
	if t.Kind == KindEpisode {
		return fmt.Sprintf("%s:%d:%d", KindEpisode, t.Season, t.Episode)
	}
	return string(t.Kind)
}

// MarshalText implements encoding.TextMarshaler
func (t MediaType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *MediaType) UnmarshalText(text []byte) error {
	parsed, err := ParseMediaType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseMediaType parses the output of MediaType.String. "tv" and "shows" are accepted as show aliases.
func ParseMediaType(s string) (MediaType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return MediaType{}, nil
	case "movie", "movies":
		return MediaTypeMovie, nil
	case "show", "shows", "tv", "anime":
		return MediaTypeShow, nil
	case "episode":
		return MediaType{Kind: KindEpisode}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 || parts[0] != string(KindEpisode) {
		return MediaType{}, fmt.Errorf("unknown media type %q", s)
	}
	season, err := strconv.Atoi(parts[1])
	if err != nil {
		return MediaType{}, fmt.Errorf("invalid season in media type %q: %w", s, err)
	}
	episode, err := strconv.Atoi(parts[2])
	if err != nil {
		return MediaType{}, fmt.Errorf("invalid episode in media type %q: %w", s, err)
	}
	return EpisodeType(season, episode), nil
}

// NormalizedStatus is the source-independent watch status of a watchlist entry
type NormalizedStatus string

const (
	StatusWatchlist NormalizedStatus = "watchlist"
	StatusWatching  NormalizedStatus = "watching"
	StatusCompleted NormalizedStatus = "completed"
	StatusDropped   NormalizedStatus = "dropped"
	StatusHold      NormalizedStatus = "hold"
)

// ParseNormalizedStatus parses a status name, case-insensitively
func ParseNormalizedStatus(s string) (NormalizedStatus, error) {
	status := NormalizedStatus(strings.ToLower(strings.TrimSpace(s)))
	switch status {
	case StatusWatchlist, StatusWatching, StatusCompleted, StatusDropped, StatusHold:
		return status, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// DataType names one of the synchronized collections
type DataType string

const (
	DataWatchlist DataType = "watchlist"
	DataRatings   DataType = "ratings"
	DataReviews   DataType = "reviews"
	DataHistory   DataType = "watch_history"
)

// AllDataTypes lists the collections in sync order
var AllDataTypes = []DataType{DataWatchlist, DataRatings, DataReviews, DataHistory}
