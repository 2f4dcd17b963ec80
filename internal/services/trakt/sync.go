package trakt

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/amaumene/mediasync/internal/models"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

// TraktIDs is the ids object of every Trakt media payload
type TraktIDs struct {
	Trakt uint64 `json:"trakt,omitempty"`
	Slug  string `json:"slug,omitempty"`
	IMDB  string `json:"imdb,omitempty"`
	TMDB  uint32 `json:"tmdb,omitempty"`
	TVDB  uint32 `json:"tvdb,omitempty"`
}

// TraktMedia represents a movie, show or episode from Trakt API
type TraktMedia struct {
	Title      string          `json:"title"`
	Year       int             `json:"year"`
	Season     int             `json:"season"`
	Number     int             `json:"number"`
	FirstAired *time.Time      `json:"first_aired,omitempty"`
	IDs        json.RawMessage `json:"ids"`
}

// TraktComment is the comment body of a review
type TraktComment struct {
	ID        uint64    `json:"id"`
	Comment   string    `json:"comment"`
	Spoiler   bool      `json:"spoiler"`
	Review    bool      `json:"review"`
	CreatedAt time.Time `json:"created_at"`
}

// TraktEntry is one element of a watchlist, ratings, history or comments listing
type TraktEntry struct {
	Type      string        `json:"type"`
	ListedAt  time.Time     `json:"listed_at"`
	RatedAt   time.Time     `json:"rated_at"`
	WatchedAt time.Time     `json:"watched_at"`
	Rating    uint8         `json:"rating"`
	Movie     *TraktMedia   `json:"movie,omitempty"`
	Show      *TraktMedia   `json:"show,omitempty"`
	Episode   *TraktMedia   `json:"episode,omitempty"`
	Comment   *TraktComment `json:"comment,omitempty"`
}

func (ids TraktIDs) toModel() models.MediaIDs {
	return models.MediaIDs{
		IMDB:  strings.ReplaceAll(ids.IMDB, "/", ""),
		Trakt: ids.Trakt,
		TMDB:  ids.TMDB,
		TVDB:  ids.TVDB,
		Slug:  ids.Slug,
	}
}

// extractIDs decodes a raw ids object. It returns nil when nothing usable is present.
func extractIDs(imdbID string, native []byte) *models.MediaIDs {
	ids := models.MediaIDs{IMDB: imdbID}
	if len(native) > 0 {
		var raw TraktIDs
		if err := json.Unmarshal(native, &raw); err == nil {
			ids.Merge(raw.toModel())
		}
	}
	if ids.IsEmpty() {
		return nil
	}
	return &ids
}

func (m *TraktMedia) ids() models.MediaIDs {
	if ids := extractIDs("", m.IDs); ids != nil {
		return *ids
	}
	return models.MediaIDs{}
}

// identify returns the identifiers, title, year and media type an entry is about
func (e TraktEntry) identify() (models.MediaIDs, string, int, models.MediaType, bool) {
	switch e.Type {
	case "movie":
		if e.Movie == nil {
			return models.MediaIDs{}, "", 0, models.MediaType{}, false
		}
		ids := e.Movie.ids()
		ids.Title, ids.Year, ids.Type = e.Movie.Title, e.Movie.Year, models.MediaTypeMovie
		return ids, e.Movie.Title, e.Movie.Year, models.MediaTypeMovie, true
	case "show":
		if e.Show == nil {
			return models.MediaIDs{}, "", 0, models.MediaType{}, false
		}
		ids := e.Show.ids()
		ids.Title, ids.Year, ids.Type = e.Show.Title, e.Show.Year, models.MediaTypeShow
		return ids, e.Show.Title, e.Show.Year, models.MediaTypeShow, true
	case "episode":
		if e.Episode == nil || e.Show == nil {
			return models.MediaIDs{}, "", 0, models.MediaType{}, false
		}
		mt := models.EpisodeType(e.Episode.Season, e.Episode.Number)
		title := e.Show.Title + ": " + e.Episode.Title
		ids := e.Episode.ids()
		ids.Title, ids.Year, ids.Type = title, e.Show.Year, mt
		ids.ShowTitle, ids.EpisodeTitle, ids.AirDate = e.Show.Title, e.Episode.Title, e.Episode.FirstAired
		return ids, title, e.Show.Year, mt, true
	}
	return models.MediaIDs{}, "", 0, models.MediaType{}, false
}

// GetWatchlist retrieves the full watchlist from Trakt
func (c *Client) GetWatchlist(ctx context.Context) ([]models.WatchlistItem, error) {
	entries, err := getPaged[TraktEntry](ctx, c, "/sync/watchlist", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get watchlist: %w", err)
	}

	items := make([]models.WatchlistItem, 0, len(entries))
	for _, e := range entries {
		ids, title, year, mt, ok := e.identify()
		if !ok || ids.IsEmpty() {
			continue
		}
		items = append(items, models.WatchlistItem{
			IMDBID:    ids.IMDB,
			IDs:       ids,
			Title:     title,
			Year:      year,
			MediaType: mt,
			DateAdded: e.ListedAt,
			Source:    sourceName,
			Status:    models.StatusWatchlist,
		})
	}
	return items, nil
}

// GetRatings retrieves every rating from Trakt
func (c *Client) GetRatings(ctx context.Context) ([]models.Rating, error) {
	entries, err := getPaged[TraktEntry](ctx, c, "/sync/ratings", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get ratings: %w", err)
	}

	ratings := make([]models.Rating, 0, len(entries))
	for _, e := range entries {
		ids, title, year, mt, ok := e.identify()
		if !ok || ids.IsEmpty() || e.Rating == 0 {
			continue
		}
		ratings = append(ratings, models.Rating{
			IMDBID:    ids.IMDB,
			IDs:       ids,
			Title:     title,
			Year:      year,
			Rating:    e.Rating,
			DateAdded: e.RatedAt,
			MediaType: mt,
			Source:    sourceName,
		})
	}
	return ratings, nil
}

// GetReviews retrieves the user's reviews from Trakt
func (c *Client) GetReviews(ctx context.Context) ([]models.Review, error) {
	entries, err := getPaged[TraktEntry](ctx, c, "/users/me/comments/reviews/all", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get reviews: %w", err)
	}

	reviews := make([]models.Review, 0, len(entries))
	for _, e := range entries {
		ids, title, year, mt, ok := e.identify()
		if !ok || ids.IsEmpty() || e.Comment == nil {
			continue
		}
		reviews = append(reviews, models.Review{
			IMDBID:    ids.IMDB,
			IDs:       ids,
			Title:     title,
			Year:      year,
			Content:   e.Comment.Comment,
			IsSpoiler: e.Comment.Spoiler,
			DateAdded: e.Comment.CreatedAt,
			MediaType: mt,
			Source:    sourceName,
		})
	}
	return reviews, nil
}

// GetWatchHistory retrieves watch history from Trakt. Only the latest play of each movie or episode is kept.
func (c *Client) GetWatchHistory(ctx context.Context) ([]models.WatchHistory, error) {
	entries, err := getPaged[TraktEntry](ctx, c, "/sync/history", url.Values{"extended": {"full"}})
	if err != nil {
		return nil, fmt.Errorf("failed to get watched history: %w", err)
	}

	seen := make(map[uint64]bool)
	history := make([]models.WatchHistory, 0, len(entries))
	for _, e := range entries {
		if e.Type != "movie" && e.Type != "episode" {
			continue
		}
		ids, title, year, mt, ok := e.identify()
		if !ok || ids.IsEmpty() {
			continue
		}
		if ids.Trakt != 0 {
			if seen[ids.Trakt] {
				continue
			}
			seen[ids.Trakt] = true
		}
		history = append(history, models.WatchHistory{
			IMDBID:    ids.IMDB,
			IDs:       ids,
			Title:     title,
			Year:      year,
			WatchedAt: e.WatchedAt,
			MediaType: mt,
			Source:    sourceName,
		})
	}
	return history, nil
}

// syncItem is one element of a /sync mutation payload
type syncItem struct {
	IDs       TraktIDs `json:"ids"`
	Title     string   `json:"title,omitempty"`
	Year      int      `json:"year,omitempty"`
	Rating    uint8    `json:"rating,omitempty"`
	RatedAt   string   `json:"rated_at,omitempty"`
	WatchedAt string   `json:"watched_at,omitempty"`
}

type syncPayload struct {
	Movies   []syncItem `json:"movies,omitempty"`
	Shows    []syncItem `json:"shows,omitempty"`
	Episodes []syncItem `json:"episodes,omitempty"`
}

func (p *syncPayload) add(mt models.MediaType, item syncItem) {
	switch mt.Kind {
	case models.KindShow:
		p.Shows = append(p.Shows, item)
	case models.KindEpisode:
		p.Episodes = append(p.Episodes, item)
	default:
		p.Movies = append(p.Movies, item)
	}
}

func (p *syncPayload) empty() bool {
	return len(p.Movies) == 0 && len(p.Shows) == 0 && len(p.Episodes) == 0
}

type syncCounts struct {
	Movies   int `json:"movies"`
	Shows    int `json:"shows"`
	Episodes int `json:"episodes"`
}

// syncResponse is the answer of every /sync mutation
type syncResponse struct {
	Added    syncCounts  `json:"added"`
	Deleted  syncCounts  `json:"deleted"`
	Existing syncCounts  `json:"existing"`
	NotFound syncPayload `json:"not_found"`
}

func payloadIDs(imdbID string, ids models.MediaIDs) TraktIDs {
	out := TraktIDs{IMDB: ids.IMDB, Trakt: ids.Trakt, TMDB: ids.TMDB, TVDB: ids.TVDB, Slug: ids.Slug}
	if out.IMDB == "" {
		out.IMDB = imdbID
	}
	return out
}

func (c *Client) postSync(ctx context.Context, path string, payload *syncPayload) error {
	if payload.empty() {
		return nil
	}

	var resp syncResponse
	if err := c.doRequest(ctx, http.MethodPost, path, payload, &resp); err != nil {
		return err
	}

	notFound := len(resp.NotFound.Movies) + len(resp.NotFound.Shows) + len(resp.NotFound.Episodes)
	if notFound > 0 {
		c.logger.WithFields(logrus.Fields{
			"path":      path,
			"not_found": notFound,
		}).Warn("Trakt did not recognize some items")
	}
	return nil
}

// AddToWatchlist adds items to the Trakt watchlist
func (c *Client) AddToWatchlist(ctx context.Context, items []models.WatchlistItem) error {
	payload := &syncPayload{}
	for _, item := range items {
		payload.add(item.MediaType, syncItem{IDs: payloadIDs(item.IMDBID, item.IDs)})
	}
	if err := c.postSync(ctx, "/sync/watchlist", payload); err != nil {
		return fmt.Errorf("failed to add to watchlist: %w", err)
	}
	return nil
}

// RemoveFromWatchlist removes items from the Trakt watchlist
func (c *Client) RemoveFromWatchlist(ctx context.Context, items []models.WatchlistItem) error {
	payload := &syncPayload{}
	for _, item := range items {
		payload.add(item.MediaType, syncItem{IDs: payloadIDs(item.IMDBID, item.IDs)})
	}
	if err := c.postSync(ctx, "/sync/watchlist/remove", payload); err != nil {
		return fmt.Errorf("failed to remove from watchlist: %w", err)
	}
	return nil
}

// SetRatings rates items on Trakt
func (c *Client) SetRatings(ctx context.Context, ratings []models.Rating) error {
	payload := &syncPayload{}
	for _, r := range ratings {
		item := syncItem{IDs: payloadIDs(r.IMDBID, r.IDs), Rating: r.Rating}
		if !r.DateAdded.IsZero() {
			item.RatedAt = r.DateAdded.UTC().Format(time.RFC3339)
		}
		payload.add(r.MediaType, item)
	}
	if err := c.postSync(ctx, "/sync/ratings", payload); err != nil {
		return fmt.Errorf("failed to set ratings: %w", err)
	}
	return nil
}

// AddWatchHistory records plays on Trakt. Shows are skipped since Trakt would mark every episode watched.
func (c *Client) AddWatchHistory(ctx context.Context, items []models.WatchHistory) error {
	payload := &syncPayload{}
	skipped := 0
	for _, h := range items {
		if h.MediaType.IsShow() {
			skipped++
			continue
		}
		payload.add(h.MediaType, syncItem{
			IDs:       payloadIDs(h.IMDBID, h.IDs),
			WatchedAt: h.WatchedAt.UTC().Format(time.RFC3339),
		})
	}
	if skipped > 0 {
		c.logger.WithField("count", skipped).Warn("Skipped shows when adding to Trakt watch history")
	}
	if err := c.postSync(ctx, "/sync/history", payload); err != nil {
		return fmt.Errorf("failed to add watch history: %w", err)
	}
	return nil
}

type commentRequest struct {
	Movie   *syncItem `json:"movie,omitempty"`
	Show    *syncItem `json:"show,omitempty"`
	Episode *syncItem `json:"episode,omitempty"`
	Comment string    `json:"comment"`
	Spoiler bool      `json:"spoiler"`
}

// AddReviews posts each review as a Trakt comment, in order
func (c *Client) AddReviews(ctx context.Context, reviews []models.Review) error {
	for _, r := range reviews {
		target := &syncItem{IDs: payloadIDs(r.IMDBID, r.IDs)}
		req := commentRequest{Comment: r.Content, Spoiler: r.IsSpoiler}
		switch r.MediaType.Kind {
		case models.KindShow:
			req.Show = target
		case models.KindEpisode:
			req.Episode = target
		default:
			req.Movie = target
		}

		if err := c.doRequest(ctx, http.MethodPost, "/comments", req, nil); err != nil {
			return fmt.Errorf("failed to add review for %s: %w", target.IDs.IMDB, err)
		}
	}
	return nil
}
