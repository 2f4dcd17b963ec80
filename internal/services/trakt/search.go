package trakt

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/amaumene/mediasync/internal/models"
	"github.com/amaumene/mediasync/internal/sources"
	"github.com/amaumene/mediasync/internal/utils"
	"github.com/sirupsen/logrus"
)

// minSearchSimilarity is the lowest title similarity accepted as a search match
const minSearchSimilarity = 0.6

type searchResult struct {
	Type  string      `json:"type"`
	Score float64     `json:"score"`
	Movie *TraktMedia `json:"movie,omitempty"`
	Show  *TraktMedia `json:"show,omitempty"`
}

func (r searchResult) media() *TraktMedia {
	if r.Movie != nil {
		return r.Movie
	}
	return r.Show
}

func searchType(mt models.MediaType) (string, bool) {
	switch mt.Kind {
	case models.KindMovie:
		return "movie", true
	case models.KindShow:
		return "show", true
	}
	return "", false
}

// normalizeQuery replaces commas and collapses whitespace
func normalizeQuery(title string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(title, ",", " ")), " ")
}

// SearchTitle finds the identifiers of a movie or show by title. Episodes are not searchable.
func (c *Client) SearchTitle(ctx context.Context, title string, year int, mt models.MediaType) (*models.MediaIDs, error) {
	kind, ok := searchType(mt)
	if !ok || strings.TrimSpace(title) == "" {
		return nil, nil
	}

	q := url.Values{"query": {normalizeQuery(title)}}
	if year > 0 {
		q.Set("years", strconv.Itoa(year))
	}

	var results []searchResult
	if err := c.doRequest(ctx, http.MethodGet, "/search/"+kind+"?"+q.Encode(), nil, &results); err != nil {
		return nil, fmt.Errorf("failed to search %q: %w", title, err)
	}

	var best *TraktMedia
	bestScore := 0.0
	for _, r := range results {
		m := r.media()
		if m == nil {
			continue
		}
		score := utils.TitleSimilarity(title, m.Title)
		if year > 0 && m.Year != 0 && m.Year != year {
			score -= 0.2
		}
		if score > bestScore {
			best, bestScore = m, score
		}
	}

	if best == nil || bestScore < minSearchSimilarity {
		c.logger.WithFields(logrus.Fields{
			"title":   title,
			"year":    year,
			"results": len(results),
		}).Debug("Trakt search found no close match")
		return nil, nil
	}

	ids := best.ids()
	ids.Title, ids.Year, ids.Type = best.Title, best.Year, mt
	return &ids, nil
}

// SearchIMDB resolves an IMDb id to its title, year and Trakt identifiers
func (c *Client) SearchIMDB(ctx context.Context, imdbID string, mt models.MediaType) (*sources.LookupResult, error) {
	kind, ok := searchType(mt)
	if !ok || imdbID == "" {
		return nil, nil
	}

	var results []searchResult
	path := "/search/imdb/" + url.PathEscape(imdbID) + "?type=" + kind
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &results); err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", imdbID, err)
	}

	for _, r := range results {
		m := r.media()
		if r.Type != kind || m == nil || m.Title == "" {
			continue
		}
		ids := m.ids()
		if ids.IMDB == "" {
			ids.IMDB = imdbID
		}
		ids.Title, ids.Year, ids.Type = m.Title, m.Year, mt
		return &sources.LookupResult{Title: m.Title, Year: m.Year, IDs: ids}, nil
	}
	return nil, nil
}

// UserSettings is the subset of /users/settings used to verify a token
type UserSettings struct {
	User struct {
		Username string `json:"username"`
		IDs      struct {
			Slug string `json:"slug"`
		} `json:"ids"`
	} `json:"user"`
}

// GetUserSettings returns the account the token belongs to
func (c *Client) GetUserSettings(ctx context.Context) (*UserSettings, error) {
	var settings UserSettings
	if err := c.doRequest(ctx, http.MethodGet, "/users/settings", nil, &settings); err != nil {
		return nil, fmt.Errorf("failed to get user settings: %w", err)
	}
	return &settings, nil
}
