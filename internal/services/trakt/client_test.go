package trakt

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amaumene/mediasync/internal/config"
	"github.com/amaumene/mediasync/internal/credentials"
	"github.com/amaumene/mediasync/internal/models"
	"github.com/amaumene/mediasync/internal/sources"
	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type memTokens struct {
	token *credentials.Token
}

func (m *memTokens) GetToken() (*credentials.Token, error) {
	if m.token == nil {
		return nil, credentials.ErrNoToken
	}
	return m.token, nil
}

func (m *memTokens) SaveToken(token *credentials.Token) error {
	m.token = token
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *memTokens) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	tokens := &memTokens{token: &credentials.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(30 * 24 * time.Hour),
	}}
	client := NewClient("client-id", "secret", tokens, quietLogger(),
		WithBaseURL(server.URL),
		WithRateLimit(rate.Inf, 1),
		WithBackOff(func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3) }),
	)
	return client, tokens
}

func TestGetWatchlistFollowsPagination(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sync/watchlist", r.URL.Path)
		assert.Equal(t, "Bearer access", r.Header.Get("Authorization"))
		assert.Equal(t, "client-id", r.Header.Get("trakt-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("trakt-api-version"))

		w.Header().Set("X-Pagination-Page-Count", "2")
		switch r.URL.Query().Get("page") {
		case "1":
			io.WriteString(w, `[{"type":"movie","listed_at":"2024-01-02T10:00:00.000Z","movie":{"title":"The Matrix","year":1999,"ids":{"trakt":481,"imdb":"tt0133093","tmdb":603,"slug":"the-matrix-1999"}}}]`)
		default:
			io.WriteString(w, `[{"type":"episode","listed_at":"2024-01-03T10:00:00.000Z","show":{"title":"Dark","year":2017,"ids":{"trakt":1}},"episode":{"title":"Secrets","season":1,"number":1,"ids":{"trakt":99,"tvdb":555}}},{"type":"person"}]`)
		}
	})

	items, err := client.GetWatchlist(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	movie := items[0]
	assert.Equal(t, "tt0133093", movie.IMDBID)
	assert.Equal(t, uint64(481), movie.IDs.Trakt)
	assert.Equal(t, uint32(603), movie.IDs.TMDB)
	assert.Equal(t, models.MediaTypeMovie, movie.MediaType)
	assert.Equal(t, models.StatusWatchlist, movie.Status)
	assert.Equal(t, "trakt", movie.Source)

	episode := items[1]
	assert.Equal(t, models.EpisodeType(1, 1), episode.MediaType)
	assert.Equal(t, "Dark: Secrets", episode.Title)
	assert.Equal(t, "Dark", episode.IDs.ShowTitle)
	assert.Equal(t, uint32(555), episode.IDs.TVDB)
}

func TestGetWatchlistSkipsEntriesWithoutIDs(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[
			{"type":"movie","movie":{"title":"Nameless","year":2001,"ids":{}}},
			{"type":"movie","movie":{"title":"Nulled","year":2002,"ids":null}},
			{"type":"show","show":{"title":"Severance","year":2022,"ids":{"trakt":154997,"imdb":"tt/11280740"}}}
		]`)
	})

	items, err := client.GetWatchlist(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Severance", items[0].Title)
	assert.Equal(t, "tt11280740", items[0].IMDBID)
	assert.Equal(t, uint64(154997), items[0].IDs.Trakt)
	assert.Equal(t, models.MediaTypeShow, items[0].MediaType)
}

func TestTransientErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `[]`)
	})

	ratings, err := client.GetRatings(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ratings)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAuthErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.GetRatings(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, sources.ErrAuthFailed))

	var statusErr *sources.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetWatchHistoryKeepsLatestPlay(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "full", r.URL.Query().Get("extended"))
		io.WriteString(w, `[
			{"type":"movie","watched_at":"2024-02-02T20:00:00.000Z","movie":{"title":"Heat","year":1995,"ids":{"trakt":7,"imdb":"tt0113277"}}},
			{"type":"movie","watched_at":"2023-02-02T20:00:00.000Z","movie":{"title":"Heat","year":1995,"ids":{"trakt":7,"imdb":"tt0113277"}}},
			{"type":"movie","watched_at":"2023-01-01T20:00:00.000Z","movie":{"title":"Ronin","year":1998,"ids":{"trakt":8}}}
		]`)
	})

	history, err := client.GetWatchHistory(context.Background())
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 2024, history[0].WatchedAt.Year())
	assert.Equal(t, "Heat", history[0].Title)
	assert.Equal(t, uint64(8), history[1].IDs.Trakt)
}

func TestAddWatchHistorySkipsShows(t *testing.T) {
	var got syncPayload
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sync/history", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		io.WriteString(w, `{"added":{"movies":1,"episodes":1},"not_found":{"movies":[]}}`)
	})

	watched := time.Date(2024, 5, 1, 21, 0, 0, 0, time.UTC)
	err := client.AddWatchHistory(context.Background(), []models.WatchHistory{
		{IMDBID: "tt0133093", IDs: models.MediaIDs{IMDB: "tt0133093", Trakt: 481}, WatchedAt: watched, MediaType: models.MediaTypeMovie},
		{IDs: models.MediaIDs{Trakt: 1}, WatchedAt: watched, MediaType: models.MediaTypeShow},
		{IDs: models.MediaIDs{Trakt: 99}, WatchedAt: watched, MediaType: models.EpisodeType(1, 1)},
	})
	require.NoError(t, err)

	require.Len(t, got.Movies, 1)
	assert.Equal(t, "tt0133093", got.Movies[0].IDs.IMDB)
	assert.Equal(t, uint64(481), got.Movies[0].IDs.Trakt)
	assert.Equal(t, "2024-05-01T21:00:00Z", got.Movies[0].WatchedAt)
	assert.Empty(t, got.Shows)
	require.Len(t, got.Episodes, 1)
}

func TestEmptyMutationSkipsRequest(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %s", r.URL.Path)
	})
	require.NoError(t, client.AddToWatchlist(context.Background(), nil))
}

func TestSearchTitlePicksClosestMatch(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/movie", r.URL.Path)
		assert.Equal(t, "Crouching Tiger Hidden Dragon", r.URL.Query().Get("query"))
		assert.Equal(t, "2000", r.URL.Query().Get("years"))
		io.WriteString(w, `[
			{"type":"movie","score":10,"movie":{"title":"Hidden Dragon","year":2000,"ids":{"trakt":1}}},
			{"type":"movie","score":9,"movie":{"title":"Crouching Tiger, Hidden Dragon","year":2000,"ids":{"trakt":2,"imdb":"tt0190332"}}}
		]`)
	})

	ids, err := client.SearchTitle(context.Background(), "Crouching Tiger,  Hidden Dragon", 2000, models.MediaTypeMovie)
	require.NoError(t, err)
	require.NotNil(t, ids)
	assert.Equal(t, uint64(2), ids.Trakt)
	assert.Equal(t, "tt0190332", ids.IMDB)
	assert.Equal(t, 2000, ids.Year)

	none, err := client.SearchTitle(context.Background(), "Pilot", 0, models.EpisodeType(1, 1))
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSearchIMDBFiltersByType(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/imdb/tt0944947", r.URL.Path)
		io.WriteString(w, `[{"type":"show","show":{"title":"Game of Thrones","year":2011,"ids":{"trakt":1390,"tvdb":121361}}}]`)
	})

	result, err := client.SearchIMDB(context.Background(), "tt0944947", models.MediaTypeShow)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "Game of Thrones", result.Title)
	assert.Equal(t, 2011, result.Year)
	assert.Equal(t, "tt0944947", result.IDs.IMDB)
	assert.Equal(t, uint32(121361), result.IDs.TVDB)
}

func TestExpiringTokenIsRefreshed(t *testing.T) {
	client, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			assert.Empty(t, r.Header.Get("Authorization"))
			io.WriteString(w, `{"access_token":"fresh","refresh_token":"r2","expires_in":7776000}`)
		default:
			assert.Equal(t, "Bearer fresh", r.Header.Get("Authorization"))
			io.WriteString(w, `[]`)
		}
	})
	tokens.token.ExpiresAt = time.Now().Add(time.Hour)

	_, err := client.GetRatings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", tokens.token.AccessToken)
	assert.Equal(t, "r2", tokens.token.RefreshToken)
}

func TestSourceCapabilities(t *testing.T) {
	mapping := config.StatusMappingConfig{
		ToNormalized:   map[string]string{"watchlist": "watchlist"},
		FromNormalized: map[string]string{"watchlist": "watchlist", "watching": "watch_history", "completed": "watch_history"},
	}
	s := NewSource(NewClient("id", "secret", &memTokens{}, quietLogger()), mapping, quietLogger())

	assert.False(t, s.RoutesToHistory(models.StatusWatchlist))
	assert.True(t, s.RoutesToHistory(models.StatusWatching))
	assert.True(t, s.RoutesToHistory(models.StatusCompleted))
	assert.False(t, s.RoutesToHistory(models.StatusDropped))

	assert.False(t, s.AcceptsHistory(models.MediaTypeShow))
	assert.True(t, s.AcceptsHistory(models.EpisodeType(2, 3)))

	assert.Equal(t, uint8(10), s.NormalizeRating(11))
	assert.Equal(t, uint8(1), s.NormalizeRating(0.2))
	assert.Equal(t, uint8(8), s.NormalizeRating(7.6))

	ids := s.ExtractIDs("", []byte(`{"trakt":12,"imdb":"tt/0000012","slug":"x"}`))
	require.NotNil(t, ids)
	assert.Equal(t, "tt0000012", ids.IMDB)
	assert.Equal(t, uint64(12), ids.Trakt)
	assert.Nil(t, s.ExtractIDs("", nil))

	assert.False(t, s.IsLookupAvailable())
	err := s.Authenticate(context.Background())
	assert.ErrorIs(t, err, sources.ErrAuthFailed)
}
