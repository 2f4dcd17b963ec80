package simkl

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/amaumene/mediasync/internal/models"
	"github.com/goccy/go-json"
)

// simklTimeLayouts are the timestamp formats Simkl answers with
var simklTimeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

func parseTime(s string) time.Time {
	for _, layout := range simklTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// flexID decodes identifiers Simkl sends either as numbers or as quoted numbers
type flexID uint64

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexID(v)
	return nil
}

// SimklIDs is the ids object of Simkl media payloads
type SimklIDs struct {
	Simkl   flexID `json:"simkl"`
	SimklID flexID `json:"simkl_id"`
	IMDB    string `json:"imdb"`
	TMDB    flexID `json:"tmdb"`
	TVDB    flexID `json:"tvdb"`
	Slug    string `json:"slug"`
}

func (ids SimklIDs) toModel() models.MediaIDs {
	simkl := ids.Simkl
	if simkl == 0 {
		simkl = ids.SimklID
	}
	return models.MediaIDs{
		IMDB:  strings.ReplaceAll(ids.IMDB, "/", ""),
		Simkl: uint64(simkl),
		TMDB:  uint32(ids.TMDB),
		TVDB:  uint32(ids.TVDB),
		Slug:  ids.Slug,
	}
}

// SimklMedia is a movie or show. IDs is kept raw and decoded by Source.ExtractIDs.
type SimklMedia struct {
	Title string          `json:"title"`
	Year  int             `json:"year"`
	IDs   json.RawMessage `json:"ids"`
}

// SimklItem is one element of the all-items or ratings listing
type SimklItem struct {
	AddedToWatchlistAt string      `json:"added_to_watchlist_at"`
	LastWatchedAt      string      `json:"last_watched_at"`
	UserRatedAt        string      `json:"user_rated_at"`
	UserRating         uint8       `json:"user_rating"`
	Status             string      `json:"status"`
	Movie              *SimklMedia `json:"movie,omitempty"`
	Show               *SimklMedia `json:"show,omitempty"`
}

// media returns the movie or show the item is about; anime is reported as a show
func (i SimklItem) media() (*SimklMedia, models.MediaType, bool) {
	if i.Movie != nil {
		return i.Movie, models.MediaTypeMovie, true
	}
	if i.Show != nil {
		return i.Show, models.MediaTypeShow, true
	}
	return nil, models.MediaType{}, false
}

// AllItems is the answer of /sync/all-items and /sync/ratings
type AllItems struct {
	Shows  []SimklItem `json:"shows"`
	Anime  []SimklItem `json:"anime"`
	Movies []SimklItem `json:"movies"`
}

func (a *AllItems) each(fn func(SimklItem)) {
	for _, group := range [][]SimklItem{a.Shows, a.Anime, a.Movies} {
		for _, item := range group {
			fn(item)
		}
	}
}

func withDateFrom(path string, dateFrom time.Time) string {
	if dateFrom.IsZero() {
		return path
	}
	return path + "?" + url.Values{"date_from": {dateFrom.UTC().Format(time.RFC3339)}}.Encode()
}

// GetAllItems fetches every list entry changed since dateFrom; a zero dateFrom fetches everything
func (c *Client) GetAllItems(ctx context.Context, dateFrom time.Time) (*AllItems, error) {
	var items AllItems
	if err := c.doRequest(ctx, http.MethodGet, withDateFrom("/sync/all-items/", dateFrom), nil, &items); err != nil {
		return nil, fmt.Errorf("failed to get all items: %w", err)
	}
	return &items, nil
}

// GetRatedItems fetches every rating changed since dateFrom
func (c *Client) GetRatedItems(ctx context.Context, dateFrom time.Time) (*AllItems, error) {
	var items AllItems
	if err := c.doRequest(ctx, http.MethodPost, withDateFrom("/sync/ratings/", dateFrom), nil, &items); err != nil {
		return nil, fmt.Errorf("failed to get ratings: %w", err)
	}
	return &items, nil
}

// MediaActivities are the last-change timestamps of one media family
type MediaActivities struct {
	All       string `json:"all"`
	RatedAt   string `json:"rated_at"`
	Playback  string `json:"playback"`
	Completed string `json:"completed"`
	Watching  string `json:"watching"`
}

// Activities is the answer of /sync/activities
type Activities struct {
	All     string          `json:"all"`
	TVShows MediaActivities `json:"tv_shows"`
	Anime   MediaActivities `json:"anime"`
	Movies  MediaActivities `json:"movies"`
}

// Fingerprint returns the activity timestamps relevant to a collection, joined
func (a *Activities) Fingerprint(dataType models.DataType) string {
	pick := func(m MediaActivities) string {
		if dataType == models.DataRatings {
			return m.RatedAt
		}
		return m.All
	}
	return strings.Join([]string{pick(a.TVShows), pick(a.Anime), pick(a.Movies)}, "|")
}

// GetActivities returns the account's last-change timestamps
func (c *Client) GetActivities(ctx context.Context) (*Activities, error) {
	var activities Activities
	if err := c.doRequest(ctx, http.MethodPost, "/sync/activities", nil, &activities); err != nil {
		return nil, fmt.Errorf("failed to get activities: %w", err)
	}
	return &activities, nil
}

// listItem is one element of a Simkl mutation payload
type listItem struct {
	To        string   `json:"to,omitempty"`
	Title     string   `json:"title,omitempty"`
	Year      int      `json:"year,omitempty"`
	Rating    uint8    `json:"rating,omitempty"`
	RatedAt   string   `json:"rated_at,omitempty"`
	WatchedAt string   `json:"watched_at,omitempty"`
	IDs       idsField `json:"ids"`
}

type idsField struct {
	Simkl uint64 `json:"simkl,omitempty"`
	IMDB  string `json:"imdb,omitempty"`
	TMDB  uint32 `json:"tmdb,omitempty"`
	TVDB  uint32 `json:"tvdb,omitempty"`
}

func payloadIDs(imdbID string, ids models.MediaIDs) idsField {
	out := idsField{Simkl: ids.Simkl, IMDB: ids.IMDB, TMDB: ids.TMDB, TVDB: ids.TVDB}
	if out.IMDB == "" {
		out.IMDB = imdbID
	}
	return out
}

type listPayload struct {
	Movies []listItem `json:"movies,omitempty"`
	Shows  []listItem `json:"shows,omitempty"`
}

// add files item by type. Episodes are not accepted by Simkl list endpoints.
func (p *listPayload) add(mt models.MediaType, item listItem) bool {
	switch mt.Kind {
	case models.KindEpisode:
		return false
	case models.KindShow:
		p.Shows = append(p.Shows, item)
	default:
		p.Movies = append(p.Movies, item)
	}
	return true
}

func (p *listPayload) empty() bool {
	return len(p.Movies) == 0 && len(p.Shows) == 0
}

func (c *Client) post(ctx context.Context, path string, payload *listPayload, skipped int) error {
	if skipped > 0 {
		c.logger.WithField("count", skipped).Debug("Skipped episodes, Simkl lists only accept movies and shows")
	}
	if payload.empty() {
		return nil
	}
	return c.doRequest(ctx, http.MethodPost, path, payload, nil)
}

// AddToList sets the list status of items. status maps each item to its native list name.
func (c *Client) AddToList(ctx context.Context, items []models.WatchlistItem, status func(models.WatchlistItem) string) error {
	payload := &listPayload{}
	skipped := 0
	for _, item := range items {
		entry := listItem{To: status(item), Title: item.Title, Year: item.Year, IDs: payloadIDs(item.IMDBID, item.IDs)}
		if !payload.add(item.MediaType, entry) {
			skipped++
		}
	}
	if err := c.post(ctx, "/sync/add-to-list", payload, skipped); err != nil {
		return fmt.Errorf("failed to add to list: %w", err)
	}
	return nil
}

// RemoveFromList removes items from every list
func (c *Client) RemoveFromList(ctx context.Context, items []models.WatchlistItem) error {
	payload := &listPayload{}
	skipped := 0
	for _, item := range items {
		entry := listItem{Title: item.Title, Year: item.Year, IDs: payloadIDs(item.IMDBID, item.IDs)}
		if !payload.add(item.MediaType, entry) {
			skipped++
		}
	}
	if err := c.post(ctx, "/sync/history/remove", payload, skipped); err != nil {
		return fmt.Errorf("failed to remove from list: %w", err)
	}
	return nil
}

// AddRatings rates items
func (c *Client) AddRatings(ctx context.Context, ratings []models.Rating, native func(uint8) uint8) error {
	payload := &listPayload{}
	skipped := 0
	for _, r := range ratings {
		entry := listItem{Rating: native(r.Rating), IDs: payloadIDs(r.IMDBID, r.IDs)}
		if !r.DateAdded.IsZero() {
			entry.RatedAt = r.DateAdded.UTC().Format(time.RFC3339)
		}
		if !payload.add(r.MediaType, entry) {
			skipped++
		}
	}
	if err := c.post(ctx, "/sync/ratings", payload, skipped); err != nil {
		return fmt.Errorf("failed to set ratings: %w", err)
	}
	return nil
}

// AddHistory records plays
func (c *Client) AddHistory(ctx context.Context, items []models.WatchHistory) error {
	payload := &listPayload{}
	skipped := 0
	for _, h := range items {
		entry := listItem{WatchedAt: h.WatchedAt.UTC().Format(time.RFC3339), IDs: payloadIDs(h.IMDBID, h.IDs)}
		if !payload.add(h.MediaType, entry) {
			skipped++
		}
	}
	if err := c.post(ctx, "/sync/history", payload, skipped); err != nil {
		return fmt.Errorf("failed to add watch history: %w", err)
	}
	return nil
}
