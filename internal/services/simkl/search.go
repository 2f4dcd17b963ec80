package simkl

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/amaumene/mediasync/internal/models"
	"github.com/amaumene/mediasync/internal/sources"
	"github.com/amaumene/mediasync/internal/utils"
)

const minSearchSimilarity = 0.6

type searchHit struct {
	Type  string   `json:"type"`
	Title string   `json:"title"`
	Year  int      `json:"year"`
	IDs   SimklIDs `json:"ids"`
}

func (h searchHit) kind() models.MediaKind {
	switch h.Type {
	case "movie":
		return models.KindMovie
	case "tv", "show", "anime":
		return models.KindShow
	}
	return ""
}

// SearchTitle finds a movie or show by title. Episodes are not searchable.
func (c *Client) SearchTitle(ctx context.Context, title string, year int, mt models.MediaType) (*models.MediaIDs, error) {
	var kind string
	switch mt.Kind {
	case models.KindMovie:
		kind = "movie"
	case models.KindShow:
		kind = "tv"
	default:
		return nil, nil
	}
	if strings.TrimSpace(title) == "" {
		return nil, nil
	}

	q := url.Values{"q": {title}, "client_id": {c.clientID}}
	var hits []searchHit
	if err := c.doRequest(ctx, http.MethodGet, "/search/"+kind+"?"+q.Encode(), nil, &hits); err != nil {
		return nil, fmt.Errorf("failed to search %q: %w", title, err)
	}

	var best *searchHit
	bestScore := 0.0
	for i := range hits {
		score := utils.TitleSimilarity(title, hits[i].Title)
		if year > 0 && hits[i].Year != 0 && hits[i].Year != year {
			score -= 0.2
		}
		if score > bestScore {
			best, bestScore = &hits[i], score
		}
	}
	if best == nil || bestScore < minSearchSimilarity {
		return nil, nil
	}

	ids := best.IDs.toModel()
	ids.Title, ids.Year, ids.Type = best.Title, best.Year, mt
	return &ids, nil
}

// SearchIMDB resolves an IMDb id to its Simkl entry
func (c *Client) SearchIMDB(ctx context.Context, imdbID string, mt models.MediaType) (*sources.LookupResult, error) {
	if imdbID == "" || mt.IsEpisode() {
		return nil, nil
	}

	q := url.Values{"imdb": {imdbID}, "client_id": {c.clientID}}
	var hits []searchHit
	if err := c.doRequest(ctx, http.MethodGet, "/search/id?"+q.Encode(), nil, &hits); err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", imdbID, err)
	}

	for _, h := range hits {
		if h.Title == "" || (!mt.IsZero() && h.kind() != mt.Kind) {
			continue
		}
		ids := h.IDs.toModel()
		if ids.IMDB == "" {
			ids.IMDB = imdbID
		}
		ids.Title, ids.Year, ids.Type = h.Title, h.Year, mt
		return &sources.LookupResult{Title: h.Title, Year: h.Year, IDs: ids}, nil
	}
	return nil, nil
}
