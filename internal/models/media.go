package models

import "time"

// Identifiable is implemented by every synchronized item
type Identifiable interface {
	// GetIMDBID returns the legacy single imdb identifier, possibly empty
	GetIMDBID() string
	// GetIDs returns the normalized identifier record
	GetIDs() MediaIDs
}

// WatchlistItem is one entry of a watchlist
type WatchlistItem struct {
	IMDBID    string           `json:"imdb_id"`
	IDs       MediaIDs         `json:"ids"`
	Title     string           `json:"title"`
	Year      int              `json:"year,omitempty"`
	MediaType MediaType        `json:"media_type"`
	DateAdded time.Time        `json:"date_added"`
	Source    string           `json:"source"`
	Status    NormalizedStatus `json:"status,omitempty"`
}

func (w WatchlistItem) GetIMDBID() string { return w.IMDBID }
func (w WatchlistItem) GetIDs() MediaIDs  { return w.IDs }

// Rating is a user rating on the normalized 1..10 scale
type Rating struct {
	IMDBID    string    `json:"imdb_id"`
	IDs       MediaIDs  `json:"ids"`
	Title     string    `json:"title,omitempty"`
	Year      int       `json:"year,omitempty"`
	Rating    uint8     `json:"rating"`
	DateAdded time.Time `json:"date_added"`
	MediaType MediaType `json:"media_type"`
	Source    string    `json:"source"`
}

func (r Rating) GetIMDBID() string { return r.IMDBID }
func (r Rating) GetIDs() MediaIDs  { return r.IDs }

// Review is a free-text review
type Review struct {
	IMDBID    string    `json:"imdb_id"`
	IDs       MediaIDs  `json:"ids"`
	Title     string    `json:"title,omitempty"`
	Year      int       `json:"year,omitempty"`
	Content   string    `json:"content"`
	IsSpoiler bool      `json:"is_spoiler"`
	DateAdded time.Time `json:"date_added"`
	MediaType MediaType `json:"media_type"`
	Source    string    `json:"source"`
}

func (r Review) GetIMDBID() string { return r.IMDBID }
func (r Review) GetIDs() MediaIDs  { return r.IDs }

// WatchHistory is a single play event
type WatchHistory struct {
	IMDBID    string    `json:"imdb_id"`
	IDs       MediaIDs  `json:"ids"`
	Title     string    `json:"title,omitempty"`
	Year      int       `json:"year,omitempty"`
	WatchedAt time.Time `json:"watched_at"`
	MediaType MediaType `json:"media_type"`
	Source    string    `json:"source"`
}

func (h WatchHistory) GetIMDBID() string { return h.IMDBID }
func (h WatchHistory) GetIDs() MediaIDs  { return h.IDs }

// ExcludedItem records an item a source returned but the sync did not collect or push
type ExcludedItem struct {
	Title          string     `json:"title,omitempty"`
	IMDBID         string     `json:"imdb_id,omitempty"`
	MediaServerKey string     `json:"rating_key,omitempty"`
	MediaType      string     `json:"media_type"`
	Reason         string     `json:"reason"`
	Source         string     `json:"source"`
	DateAdded      *time.Time `json:"date_added,omitempty"`
}
