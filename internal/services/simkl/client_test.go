package simkl

import (
	"bytes"
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

type memState map[string]string

func (m memState) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

func (m memState) Set(key, value string) error {
	m[key] = value
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

var testMapping = config.StatusMappingConfig{
	ToNormalized: map[string]string{
		"plantowatch": "watchlist",
		"watching":    "watching",
		"completed":   "completed",
	},
	FromNormalized: map[string]string{
		"watchlist": "plantowatch",
		"completed": "completed",
	},
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	tokens := &memTokens{token: &credentials.Token{AccessToken: "access"}}
	return NewClient("client-id", tokens, quietLogger(),
		WithBaseURL(server.URL),
		WithRateLimit(rate.Inf, 1),
		WithBackOff(func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3) }),
		WithPollInterval(time.Millisecond),
	)
}

const allItemsBody = `{
	"movies": [{"added_to_watchlist_at":"2024-01-02T10:00:00Z","last_watched_at":"2024-02-01T20:00:00Z","status":"completed",
		"movie":{"title":"The Matrix","year":1999,"ids":{"simkl":53536,"imdb":"tt0133093","tmdb":"603"}}}],
	"shows": [{"added_to_watchlist_at":"2024-01-05 08:00:00","status":"plantowatch",
		"show":{"title":"Dark","year":2017,"ids":{"simkl":12,"tvdb":334824}}}],
	"anime": [{"added_to_watchlist_at":"2024-01-06","status":"watching",
		"show":{"title":"Frieren","year":2023,"ids":{"simkl":99,"imdb":"tt22248376"}}},
		{"status":"plantowatch"}]
}`

const activitiesBody = `{"all":"2024-03-01T00:00:00Z",
	"tv_shows":{"all":"2024-03-01T00:00:00Z","rated_at":"2024-01-01T00:00:00Z"},
	"anime":{"all":"2024-02-01T00:00:00Z","rated_at":"2024-01-01T00:00:00Z"},
	"movies":{"all":"2024-02-15T00:00:00Z","rated_at":"2024-02-20T00:00:00Z"}}`

func TestGetAllItemsParsesEveryFamily(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sync/all-items/", r.URL.Path)
		assert.Equal(t, "client-id", r.Header.Get("simkl-api-key"))
		assert.Equal(t, "Bearer access", r.Header.Get("Authorization"))
		assert.Empty(t, r.URL.Query().Get("date_from"))
		io.WriteString(w, allItemsBody)
	})

	all, err := client.GetAllItems(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, all.Movies, 1)
	require.Len(t, all.Anime, 2)

	ids := NewSource(nil, memState{}, testMapping, quietLogger()).ExtractIDs("", all.Movies[0].Movie.IDs)
	require.NotNil(t, ids)
	assert.Equal(t, uint64(53536), ids.Simkl)
	assert.Equal(t, uint32(603), ids.TMDB)
	assert.Equal(t, "tt0133093", ids.IMDB)

	_, mt, ok := all.Anime[0].media()
	require.True(t, ok)
	assert.Equal(t, models.MediaTypeShow, mt)

	_, _, ok = all.Anime[1].media()
	assert.False(t, ok)
}

func TestSourceWatchlistMapsStatuses(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sync/activities":
			io.WriteString(w, activitiesBody)
		case "/sync/all-items/":
			io.WriteString(w, allItemsBody)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	state := memState{}
	source := NewSource(client, state, testMapping, quietLogger())

	items, err := source.GetWatchlist(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 3)

	byTitle := map[string]models.WatchlistItem{}
	for _, item := range items {
		byTitle[item.Title] = item
	}
	assert.Equal(t, models.StatusCompleted, byTitle["The Matrix"].Status)
	assert.Equal(t, models.StatusWatchlist, byTitle["Dark"].Status)
	assert.Equal(t, models.StatusWatching, byTitle["Frieren"].Status)
	assert.Equal(t, models.MediaTypeShow, byTitle["Frieren"].MediaType)
	assert.Equal(t, time.Date(2024, 1, 5, 8, 0, 0, 0, time.UTC), byTitle["Dark"].DateAdded)
	assert.Equal(t, "simkl", byTitle["Dark"].Source)

	assert.Equal(t, "2024-03-01T00:00:00Z|2024-02-01T00:00:00Z|2024-02-15T00:00:00Z", state[activityPrefix+"watchlist"])
}

func TestSourceWatchlistExtractsRawIDs(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sync/activities":
			io.WriteString(w, activitiesBody)
		case "/sync/all-items/":
			io.WriteString(w, `{
				"movies": [{"status":"plantowatch","movie":{"title":"Nameless","year":2001,"ids":{}}},
					{"status":"plantowatch","movie":{"title":"Nulled","year":2002,"ids":null}}],
				"shows": [{"status":"hold","show":{"title":"Severance","year":2022,"ids":{"simkl_id":"77","imdb":"tt/11280740"}}}]
			}`)
		}
	})
	source := NewSource(client, memState{}, testMapping, quietLogger())

	items, err := source.GetWatchlist(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)

	item := items[0]
	assert.Equal(t, "Severance", item.Title)
	assert.Equal(t, uint64(77), item.IDs.Simkl)
	assert.Equal(t, "tt11280740", item.IMDBID)
	assert.Equal(t, models.MediaTypeShow, item.IDs.Type)
	// hold has no mapping in this configuration
	assert.Equal(t, models.NormalizedStatus(""), item.Status)
}

func TestSourceIncrementalWindow(t *testing.T) {
	var itemCalls atomic.Int32
	var dateFrom atomic.Value
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sync/activities":
			io.WriteString(w, activitiesBody)
		case "/sync/all-items/":
			itemCalls.Add(1)
			dateFrom.Store(r.URL.Query().Get("date_from"))
			io.WriteString(w, `{}`)
		}
	})
	key := activityPrefix + string(models.DataHistory)

	t.Run("unchanged fingerprint skips the fetch", func(t *testing.T) {
		state := memState{key: "2024-03-01T00:00:00Z|2024-02-01T00:00:00Z|2024-02-15T00:00:00Z"}
		source := NewSource(client, state, testMapping, quietLogger())

		history, err := source.GetWatchHistory(context.Background())
		require.NoError(t, err)
		assert.Empty(t, history)
		assert.Equal(t, int32(0), itemCalls.Load())
	})

	t.Run("changed fingerprint fetches since the last known change", func(t *testing.T) {
		state := memState{key: "2024-01-01T00:00:00Z|2024-02-01T00:00:00Z|2024-01-20T00:00:00Z"}
		source := NewSource(client, state, testMapping, quietLogger())

		_, err := source.GetWatchHistory(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int32(1), itemCalls.Load())
		assert.Equal(t, "2024-02-01T00:00:00Z", dateFrom.Load())
		assert.Equal(t, "2024-03-01T00:00:00Z|2024-02-01T00:00:00Z|2024-02-15T00:00:00Z", state[key])
	})

	t.Run("forced full sync ignores the stored fingerprint", func(t *testing.T) {
		state := memState{key: "2024-03-01T00:00:00Z|2024-02-01T00:00:00Z|2024-02-15T00:00:00Z"}
		source := NewSource(client, state, testMapping, quietLogger())
		source.SetForceFullSync(true)

		_, err := source.GetWatchHistory(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int32(2), itemCalls.Load())
		assert.Equal(t, "", dateFrom.Load())
	})
}

func TestSourceHistoryOnlyKeepsWatchedItems(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sync/activities":
			w.WriteHeader(http.StatusBadRequest)
		case "/sync/all-items/":
			io.WriteString(w, allItemsBody)
		}
	})
	state := memState{}
	source := NewSource(client, state, testMapping, quietLogger())

	history, err := source.GetWatchHistory(context.Background())
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "The Matrix", history[0].Title)
	assert.Equal(t, time.Date(2024, 2, 1, 20, 0, 0, 0, time.UTC), history[0].WatchedAt)
	assert.Empty(t, state)
}

func TestAddToWatchlistSendsNativeStatus(t *testing.T) {
	var payload listPayload
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/sync/add-to-list", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		io.WriteString(w, `{}`)
	})
	source := NewSource(client, memState{}, testMapping, quietLogger())

	err := source.AddToWatchlist(context.Background(), []models.WatchlistItem{
		{IMDBID: "tt0133093", Title: "The Matrix", MediaType: models.MediaTypeMovie, Status: models.StatusCompleted},
		{IDs: models.MediaIDs{TVDB: 334824}, Title: "Dark", MediaType: models.MediaTypeShow, Status: models.StatusDropped},
		{IMDBID: "tt1", Title: "Pilot", MediaType: models.EpisodeType(1, 1)},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	require.Len(t, payload.Movies, 1)
	assert.Equal(t, "completed", payload.Movies[0].To)
	assert.Equal(t, "tt0133093", payload.Movies[0].IDs.IMDB)
	require.Len(t, payload.Shows, 1)
	assert.Equal(t, defaultList, payload.Shows[0].To)
	assert.Equal(t, uint32(334824), payload.Shows[0].IDs.TVDB)
}

func TestEmptyMutationSendsNothing(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %s", r.URL.Path)
	})
	source := NewSource(client, memState{}, testMapping, quietLogger())

	require.NoError(t, source.AddWatchHistory(context.Background(), []models.WatchHistory{
		{IMDBID: "tt1", MediaType: models.EpisodeType(1, 2), WatchedAt: time.Now()},
	}))
	require.NoError(t, source.SetRatings(context.Background(), nil))
}

func TestSetReviewsIsNotSupported(t *testing.T) {
	source := NewSource(newTestClient(t, func(w http.ResponseWriter, r *http.Request) {}), memState{}, testMapping, quietLogger())

	assert.NoError(t, source.SetReviews(context.Background(), nil))
	err := source.SetReviews(context.Background(), []models.Review{{IMDBID: "tt1", Content: "great"}})
	assert.True(t, errors.Is(err, sources.ErrNotSupported))

	reviews, err := source.GetReviews(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, reviews)
}

func TestSearchIMDBFiltersByType(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/id", r.URL.Path)
		assert.Equal(t, "tt0133093", r.URL.Query().Get("imdb"))
		io.WriteString(w, `[{"type":"tv","title":"Matrix Show","year":2001,"ids":{"simkl_id":1}},
			{"type":"movie","title":"The Matrix","year":1999,"ids":{"simkl_id":53536,"slug":"the-matrix"}}]`)
	})

	result, err := client.SearchIMDB(context.Background(), "tt0133093", models.MediaTypeMovie)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "The Matrix", result.Title)
	assert.Equal(t, uint64(53536), result.IDs.Simkl)
	assert.Equal(t, "tt0133093", result.IDs.IMDB)
}

func TestSearchTitlePicksClosestMatch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/tv", r.URL.Path)
		assert.Equal(t, "Dark", r.URL.Query().Get("q"))
		io.WriteString(w, `[{"title":"Dark Matter","year":2015,"ids":{"simkl_id":5}},{"title":"Dark","year":2017,"ids":{"simkl_id":12}}]`)
	})

	ids, err := client.SearchTitle(context.Background(), "Dark", 2017, models.MediaTypeShow)
	require.NoError(t, err)
	require.NotNil(t, ids)
	assert.Equal(t, uint64(12), ids.Simkl)

	none, err := client.SearchTitle(context.Background(), "Pilot", 0, models.EpisodeType(1, 1))
	assert.NoError(t, err)
	assert.Nil(t, none)
}

func TestPinLoginStoresToken(t *testing.T) {
	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/pin":
			io.WriteString(w, `{"result":"OK","user_code":"ABCD","verification_url":"https://simkl.com/pin","expires_in":60,"interval":1}`)
		case "/oauth/pin/ABCD":
			if polls.Add(1) < 2 {
				io.WriteString(w, `{"result":"KO","message":"Authorization pending"}`)
				return
			}
			io.WriteString(w, `{"result":"OK","access_token":"fresh"}`)
		}
	}))
	t.Cleanup(server.Close)

	tokens := &memTokens{}
	client := NewClient("client-id", tokens, quietLogger(),
		WithBaseURL(server.URL),
		WithRateLimit(rate.Inf, 1),
		WithPollInterval(time.Millisecond),
	)

	var out bytes.Buffer
	require.NoError(t, client.PinLogin(context.Background(), &out))
	require.NotNil(t, tokens.token)
	assert.Equal(t, "fresh", tokens.token.AccessToken)
	assert.True(t, tokens.token.ExpiresAt.IsZero())
	assert.Contains(t, out.String(), "ABCD")
}

func TestSourceCapabilities(t *testing.T) {
	source := NewSource(nil, memState{}, testMapping, quietLogger())

	assert.Equal(t, uint8(10), source.NormalizeRating(12))
	assert.Equal(t, uint8(1), source.NormalizeRating(0))
	assert.Equal(t, 7.0, source.DenormalizeRating(7))
	assert.True(t, source.SupportsNativeIncremental())
	assert.Equal(t, 70, source.LookupPriority())
	assert.False(t, source.IsLookupAvailable())

	ids := source.ExtractIDs("", []byte(`{"simkl":"42","tmdb":603}`))
	require.NotNil(t, ids)
	assert.Equal(t, uint64(42), ids.Simkl)
	assert.Nil(t, source.ExtractIDs("", nil))
}
