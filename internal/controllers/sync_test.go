package controllers

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amaumene/mediasync/internal/config"
	"github.com/amaumene/mediasync/internal/models"
	"github.com/amaumene/mediasync/internal/resolver"
	"github.com/amaumene/mediasync/internal/sources"
	"github.com/amaumene/mediasync/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSource struct {
	mock.Mock

	name      string
	authErr   error
	fetchErr  map[models.DataType]error
	fetches   atomic.Int32
	watchlist []models.WatchlistItem
	ratings   []models.Rating
	reviews   []models.Review
	history   []models.WatchHistory
}

func newMockSource(name string) *mockSource {
	return &mockSource{name: name, fetchErr: map[models.DataType]error{}}
}

func (m *mockSource) Name() string                           { return m.name }
func (m *mockSource) Authenticate(ctx context.Context) error { return m.authErr }
func (m *mockSource) IsAuthenticated() bool                  { return m.authErr == nil }
func (m *mockSource) Cleanup(ctx context.Context) error      { return nil }

func (m *mockSource) GetWatchlist(ctx context.Context) ([]models.WatchlistItem, error) {
	m.fetches.Add(1)
	return m.watchlist, m.fetchErr[models.DataWatchlist]
}

func (m *mockSource) GetRatings(ctx context.Context) ([]models.Rating, error) {
	m.fetches.Add(1)
	return m.ratings, m.fetchErr[models.DataRatings]
}

func (m *mockSource) GetReviews(ctx context.Context) ([]models.Review, error) {
	m.fetches.Add(1)
	return m.reviews, m.fetchErr[models.DataReviews]
}

func (m *mockSource) GetWatchHistory(ctx context.Context) ([]models.WatchHistory, error) {
	m.fetches.Add(1)
	return m.history, m.fetchErr[models.DataHistory]
}

func (m *mockSource) AddToWatchlist(ctx context.Context, items []models.WatchlistItem) error {
	return m.Called(ctx, items).Error(0)
}

func (m *mockSource) RemoveFromWatchlist(ctx context.Context, items []models.WatchlistItem) error {
	return m.Called(ctx, items).Error(0)
}

func (m *mockSource) SetRatings(ctx context.Context, ratings []models.Rating) error {
	return m.Called(ctx, ratings).Error(0)
}

func (m *mockSource) SetReviews(ctx context.Context, reviews []models.Review) error {
	return m.Called(ctx, reviews).Error(0)
}

func (m *mockSource) AddWatchHistory(ctx context.Context, items []models.WatchHistory) error {
	return m.Called(ctx, items).Error(0)
}

type memTimes struct {
	mu    sync.Mutex
	times map[string]time.Time
}

func newMemTimes() *memTimes {
	return &memTimes{times: map[string]time.Time{}}
}

func (m *memTimes) LastSync(source string, dataType models.DataType) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.times[source+"/"+string(dataType)]
	return t, ok
}

func (m *memTimes) SetLastSync(source string, dataType models.DataType, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.times[source+"/"+string(dataType)] = t
	return nil
}

type controllerFixture struct {
	cfg    *config.Config
	trakt  *mockSource
	simkl  *mockSource
	times  *memTimes
	cache  *CacheManager
	ignore *utils.IgnoreList
	lookup resolver.Lookup
	dir    string
}

func newFixture(t *testing.T) *controllerFixture {
	dir := t.TempDir()
	logger := quietLogger()
	ignore, err := utils.LoadIgnoreList(filepath.Join(dir, "ignore.txt"))
	require.NoError(t, err)

	return &controllerFixture{
		cfg: &config.Config{
			Resolution: config.ResolutionConfig{
				Strategy:         config.StrategyPreference,
				SourcePreference: []string{"trakt", "simkl"},
			},
			Sync: config.SyncConfig{SyncWatchlist: true},
		},
		trakt:  newMockSource("trakt"),
		simkl:  newMockSource("simkl"),
		times:  newMemTimes(),
		cache:  NewCacheManager(filepath.Join(dir, "collect"), filepath.Join(dir, "distribute"), logger),
		ignore: ignore,
		dir:    dir,
	}
}

func (f *controllerFixture) controller() *SyncController {
	return f.controllerOver(f.trakt, f.simkl)
}

func (f *controllerFixture) controllerOver(list ...sources.Source) *SyncController {
	logger := quietLogger()
	res := resolver.New(nil, nil, f.lookup, resolver.DefaultConfig(), logger)
	return NewSyncController(f.cfg, list, res, f.times, f.cache, nil, f.ignore, logger)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

var added = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

func watchlistItem(imdb, title, source string) models.WatchlistItem {
	return models.WatchlistItem{
		IMDBID:    imdb,
		IDs:       models.MediaIDs{IMDB: imdb},
		Title:     title,
		Year:      2020,
		MediaType: models.MediaTypeMovie,
		DateAdded: added,
		Source:    source,
	}
}

func imdbs[T models.Identifiable](want ...string) interface{} {
	return mock.MatchedBy(func(items []T) bool {
		if len(items) != len(want) {
			return false
		}
		for i, item := range items {
			if item.GetIMDBID() != want[i] {
				return false
			}
		}
		return true
	})
}

func TestRunPushesOnlyMissingItems(t *testing.T) {
	f := newFixture(t)
	f.trakt.watchlist = []models.WatchlistItem{watchlistItem("tt0000001", "Alpha", "trakt")}
	f.simkl.watchlist = []models.WatchlistItem{
		watchlistItem("tt0000001", "Alpha", "simkl"),
		watchlistItem("tt0000002", "Beta", "simkl"),
	}
	f.trakt.On("AddToWatchlist", mock.Anything, imdbs[models.WatchlistItem]("tt0000002")).Return(nil).Once()

	c := f.controller()
	result, err := c.Run(context.Background(), OptionsFromConfig(f.cfg.Sync))
	require.NoError(t, err)

	f.trakt.AssertExpectations(t)
	f.simkl.AssertNotCalled(t, "AddToWatchlist", mock.Anything, mock.Anything)

	assert.False(t, result.HasFailures())
	assert.False(t, result.NothingToDo())
	assert.Equal(t, 1, result.PerSource["trakt"].Pushed)
	assert.Equal(t, 0, result.PerSource["simkl"].Pushed)
	assert.Equal(t, 2, result.PerSource["simkl"].Fetched)

	last, ok := f.times.LastSync("trakt", models.DataWatchlist)
	require.True(t, ok)
	assert.Equal(t, result.StartedAt, last)
	_, ok = f.times.LastSync("trakt", models.DataRatings)
	assert.False(t, ok, "disabled collections keep their timestamp")

	snapshot, ok := LoadCollected[models.WatchlistItem](f.cache, "simkl", models.DataWatchlist)
	require.True(t, ok)
	assert.Len(t, snapshot, 2)
}

func TestRunNothingToDo(t *testing.T) {
	f := newFixture(t)
	f.trakt.watchlist = []models.WatchlistItem{watchlistItem("tt0000001", "Alpha", "trakt")}
	f.simkl.watchlist = []models.WatchlistItem{watchlistItem("tt0000001", "Alpha", "simkl")}

	result, err := f.controller().Run(context.Background(), OptionsFromConfig(f.cfg.Sync))
	require.NoError(t, err)
	assert.True(t, result.NothingToDo())
}

func TestRunPrimaryAuthFailureAborts(t *testing.T) {
	f := newFixture(t)
	f.trakt.authErr = sources.ErrAuthFailed

	result, err := f.controller().Run(context.Background(), OptionsFromConfig(f.cfg.Sync))
	require.Error(t, err)
	assert.ErrorIs(t, err, sources.ErrAuthFailed)
	assert.True(t, result.HasFailures())
	assert.Zero(t, f.trakt.fetches.Load())
	assert.Zero(t, f.simkl.fetches.Load())
}

func TestRunSecondaryAuthFailureIsIsolated(t *testing.T) {
	f := newFixture(t)
	f.simkl.authErr = sources.ErrAuthFailed
	f.trakt.watchlist = []models.WatchlistItem{watchlistItem("tt0000001", "Alpha", "trakt")}

	result, err := f.controller().Run(context.Background(), OptionsFromConfig(f.cfg.Sync))
	require.NoError(t, err)
	assert.True(t, result.HasFailures())
	assert.Equal(t, 1, result.PerSource["simkl"].Failed)
	assert.Zero(t, f.simkl.fetches.Load())
	f.simkl.AssertNotCalled(t, "AddToWatchlist", mock.Anything, mock.Anything)
}

func TestRunUnknownPreferredSource(t *testing.T) {
	f := newFixture(t)
	f.cfg.Resolution.SourcePreference = []string{"trakt", "letterboxd"}

	_, err := f.controller().Run(context.Background(), OptionsFromConfig(f.cfg.Sync))
	assert.ErrorIs(t, err, config.ErrConfigInvalid)
}

func TestRunDryRunWritesSnapshots(t *testing.T) {
	f := newFixture(t)
	f.trakt.watchlist = []models.WatchlistItem{watchlistItem("tt0000001", "Alpha", "trakt")}
	f.trakt.On("AddToWatchlist", mock.Anything, imdbs[models.WatchlistItem]("tt0000002")).Return(nil).Once()
	f.simkl.watchlist = []models.WatchlistItem{watchlistItem("tt0000002", "Beta", "simkl")}

	opts := OptionsFromConfig(f.cfg.Sync)
	opts.DryRun = []string{"simkl"}
	result, err := f.controller().Run(context.Background(), opts)
	require.NoError(t, err)

	f.trakt.AssertExpectations(t)
	f.simkl.AssertNotCalled(t, "AddToWatchlist", mock.Anything, mock.Anything)

	planned, ok := LoadDistribute[models.WatchlistItem](f.cache, "simkl", string(models.DataWatchlist))
	require.True(t, ok)
	require.Len(t, planned, 1)
	assert.Equal(t, "tt0000001", planned[0].IMDBID)
	assert.Equal(t, 1, result.PerSource["simkl"].Planned)

	_, ok = f.times.LastSync("simkl", models.DataWatchlist)
	assert.False(t, ok)
	_, ok = f.times.LastSync("trakt", models.DataWatchlist)
	assert.True(t, ok)
}

func TestRunIgnoreListExcludesItems(t *testing.T) {
	f := newFixture(t)
	f.ignore.Add("tt0000002")
	f.simkl.watchlist = []models.WatchlistItem{watchlistItem("tt0000002", "Beta", "simkl")}

	_, err := f.controller().Run(context.Background(), OptionsFromConfig(f.cfg.Sync))
	require.NoError(t, err)
	f.trakt.AssertNotCalled(t, "AddToWatchlist", mock.Anything, mock.Anything)

	excluded, ok := loadSnapshot[models.ExcludedItem](quietLogger(), filepath.Join(f.dir, "collect", "simkl", "excluded.json"))
	require.True(t, ok)
	require.Len(t, excluded, 1)
	assert.Equal(t, "ignore list: tt0000002", excluded[0].Reason)
}

func TestRunSkipsCollectionThatFailedToFetch(t *testing.T) {
	f := newFixture(t)
	f.cfg.Sync.SyncRatings = true
	f.simkl.fetchErr[models.DataRatings] = errors.New("boom")
	f.trakt.ratings = []models.Rating{{
		IMDBID: "tt0000001", IDs: models.MediaIDs{IMDB: "tt0000001"}, Title: "Alpha",
		Rating: 8, DateAdded: added, MediaType: models.MediaTypeMovie, Source: "trakt",
	}}

	result, err := f.controller().Run(context.Background(), OptionsFromConfig(f.cfg.Sync))
	require.NoError(t, err)
	f.simkl.AssertNotCalled(t, "SetRatings", mock.Anything, mock.Anything)
	assert.True(t, result.HasFailures())
	assert.Equal(t, 1, result.PerSource["simkl"].Skipped)

	_, ok := f.times.LastSync("simkl", models.DataRatings)
	assert.False(t, ok)
	_, ok = f.times.LastSync("simkl", models.DataWatchlist)
	assert.True(t, ok)
}

func TestRunRemovesWatchedFromWatchlists(t *testing.T) {
	f := newFixture(t)
	f.cfg.Sync.SyncWatchHistory = true
	f.cfg.Sync.RemoveWatchedFromWatchlists = true
	f.trakt.watchlist = []models.WatchlistItem{watchlistItem("tt0000001", "Alpha", "trakt")}
	f.simkl.history = []models.WatchHistory{{
		IMDBID: "tt0000001", IDs: models.MediaIDs{IMDB: "tt0000001"}, Title: "Alpha",
		WatchedAt: added, MediaType: models.MediaTypeMovie, Source: "simkl",
	}}
	f.trakt.On("RemoveFromWatchlist", mock.Anything, imdbs[models.WatchlistItem]("tt0000001")).Return(nil).Once()
	f.trakt.On("AddWatchHistory", mock.Anything, imdbs[models.WatchHistory]("tt0000001")).Return(nil).Once()

	result, err := f.controller().Run(context.Background(), OptionsFromConfig(f.cfg.Sync))
	require.NoError(t, err)

	f.trakt.AssertExpectations(t)
	f.simkl.AssertNotCalled(t, "AddToWatchlist", mock.Anything, mock.Anything)
	assert.Equal(t, 2, result.PerSource["trakt"].Pushed)
}

func TestRunFailedPushKeepsTimestamp(t *testing.T) {
	f := newFixture(t)
	f.simkl.watchlist = []models.WatchlistItem{watchlistItem("tt0000002", "Beta", "simkl")}
	f.trakt.On("AddToWatchlist", mock.Anything, mock.Anything).Return(sources.ErrTransient).Once()

	result, err := f.controller().Run(context.Background(), OptionsFromConfig(f.cfg.Sync))
	require.NoError(t, err)
	assert.True(t, result.HasFailures())
	assert.Equal(t, 1, result.PerSource["trakt"].Failed)

	_, ok := f.times.LastSync("trakt", models.DataWatchlist)
	assert.False(t, ok)
}

func TestRunUsesCollectCache(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, SaveCollected(f.cache, "simkl", models.DataWatchlist,
		[]models.WatchlistItem{watchlistItem("tt0000003", "Gamma", "simkl")}))
	f.trakt.On("AddToWatchlist", mock.Anything, imdbs[models.WatchlistItem]("tt0000003")).Return(nil).Once()

	opts := OptionsFromConfig(f.cfg.Sync)
	opts.UseCache = []string{"simkl"}
	_, err := f.controller().Run(context.Background(), opts)
	require.NoError(t, err)

	f.trakt.AssertExpectations(t)
	assert.Zero(t, f.simkl.fetches.Load())
}

func TestRunIncrementalWindow(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.times.SetLastSync("simkl", models.DataWatchlist, added.Add(time.Hour)))
	old := watchlistItem("tt0000004", "Delta", "simkl")
	recent := watchlistItem("tt0000005", "Epsilon", "simkl")
	recent.DateAdded = added.Add(2 * time.Hour)
	f.simkl.watchlist = []models.WatchlistItem{old, recent}
	f.trakt.On("AddToWatchlist", mock.Anything, imdbs[models.WatchlistItem]("tt0000005")).Return(nil).Once()

	_, err := f.controller().Run(context.Background(), OptionsFromConfig(f.cfg.Sync))
	require.NoError(t, err)
	f.trakt.AssertExpectations(t)
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	f := newFixture(t)
	c := f.controller()
	c.running.Lock()
	defer c.running.Unlock()

	_, err := c.Run(context.Background(), OptionsFromConfig(f.cfg.Sync))
	assert.ErrorIs(t, err, ErrSyncInProgress)
}

func TestChangedSince(t *testing.T) {
	since := time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC)

	assert.True(t, changedSince(time.Time{}, since))
	assert.True(t, changedSince(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), since), "date-only on the same day")
	assert.False(t, changedSince(time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), since))
	assert.False(t, changedSince(since.Add(-time.Minute), since))
	assert.True(t, changedSince(since.Add(time.Minute), since))
}

func TestCacheCorruptionIsAMiss(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.dir, "collect", "trakt", "ratings.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, ok := LoadCollected[models.Rating](f.cache, "trakt", models.DataRatings)
	assert.False(t, ok)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
