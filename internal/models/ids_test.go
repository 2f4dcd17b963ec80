package models

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeFillsOnlyEmptySlots(t *testing.T) {
	a := MediaIDs{IMDB: "tt0133093", Title: "The Matrix"}
	b := MediaIDs{IMDB: "tt9999999", Trakt: 481, Slug: "the-matrix-1999", Year: 1999}

	a.Merge(b)

	assert.Equal(t, "tt0133093", a.IMDB)
	assert.Equal(t, uint64(481), a.Trakt)
	assert.Equal(t, "the-matrix-1999", a.Slug)
	assert.Equal(t, "The Matrix", a.Title)
	assert.Equal(t, 1999, a.Year)
}

func TestMergeIsIdempotentAndCommutativeOnDisjointSlots(t *testing.T) {
	a := MediaIDs{IMDB: "tt0133093", TMDB: 603}
	b := MediaIDs{Trakt: 481, Simkl: 53536, Type: MediaTypeMovie}

	ab := a
	ab.Merge(b)
	ba := b
	ba.Merge(a)
	assert.Equal(t, ab, ba)

	again := ab
	again.Merge(b)
	assert.Equal(t, ab, again)
}

func TestMergeCopiesAirDate(t *testing.T) {
	airDate := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	var a MediaIDs
	a.Merge(MediaIDs{AirDate: &airDate})

	require.NotNil(t, a.AirDate)
	airDate = airDate.AddDate(1, 0, 0)
	assert.Equal(t, 2020, a.AirDate.Year())
}

func TestIsEmptyIgnoresMetadata(t *testing.T) {
	assert.True(t, MediaIDs{Title: "Dune", Year: 2021}.IsEmpty())
	assert.False(t, MediaIDs{MediaServerKey: "12345"}.IsEmpty())
}

func TestAnyIDPriority(t *testing.T) {
	tests := []struct {
		name string
		ids  MediaIDs
		want string
	}{
		{"imdb first", MediaIDs{IMDB: "tt1", Trakt: 2}, "tt1"},
		{"trakt", MediaIDs{Trakt: 2, Simkl: 3}, "trakt:2"},
		{"simkl", MediaIDs{Simkl: 3, TMDB: 4}, "simkl:3"},
		{"tmdb", MediaIDs{TMDB: 4, TVDB: 5}, "tmdb:4"},
		{"tvdb", MediaIDs{TVDB: 5, Slug: "x"}, "tvdb:5"},
		{"slug", MediaIDs{Slug: "x", MediaServerKey: "k"}, "x"},
		{"media server key", MediaIDs{MediaServerKey: "k"}, "k"},
		{"empty", MediaIDs{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ids.AnyID())
		})
	}
}

func TestKeysAndSharesID(t *testing.T) {
	ids := MediaIDs{IMDB: "tt1", Trakt: 2, MediaServerKey: "k"}
	assert.Equal(t, []string{"imdb:tt1", "trakt:2", "plex:k"}, ids.Keys())

	assert.True(t, ids.SharesID(MediaIDs{Trakt: 2}))
	assert.False(t, ids.SharesID(MediaIDs{Trakt: 3, IMDB: "tt2"}))
	assert.False(t, MediaIDs{}.SharesID(MediaIDs{}))
}

func TestParseMediaType(t *testing.T) {
	mt, err := ParseMediaType("episode:2:5")
	require.NoError(t, err)
	assert.Equal(t, EpisodeType(2, 5), mt)
	assert.Equal(t, "episode:2:5", mt.String())

	mt, err = ParseMediaType("TV")
	require.NoError(t, err)
	assert.True(t, mt.IsShow())

	_, err = ParseMediaType("album")
	assert.Error(t, err)
}

func TestDatabaseSyncRuns(t *testing.T) {
	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		run := &SyncRun{
			ID:         id,
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
			FinishedAt: base.Add(time.Duration(i)*time.Hour + time.Minute),
			Success:    true,
			Sources:    []SourceRunSummary{{Source: "trakt", Fetched: i}},
		}
		require.NoError(t, db.SaveSyncRun(run))
	}

	latest, err := db.LatestSyncRun()
	require.NoError(t, err)
	assert.Equal(t, "c", latest.ID)
	assert.Equal(t, time.Minute, latest.Duration())

	require.NoError(t, db.PruneSyncRuns(2))
	runs, err := db.ListSyncRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)

	require.NoError(t, db.DeleteAllSyncRuns())
	_, err = db.LatestSyncRun()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHasIDAndBestIDFor(t *testing.T) {
	ids := MediaIDs{IMDB: "tt0133093", Simkl: 53536}

	assert.True(t, ids.HasID("imdb"))
	assert.True(t, ids.HasID("simkl"))
	assert.False(t, ids.HasID("trakt"))
	assert.False(t, ids.HasID("bogus"))

	assert.Equal(t, "53536", ids.BestIDFor("simkl"))
	assert.Equal(t, "tt0133093", ids.BestIDFor("trakt"))
}

func TestConflictsWith(t *testing.T) {
	a := MediaIDs{IMDB: "tt1", Trakt: 1}

	assert.False(t, a.ConflictsWith(MediaIDs{IMDB: "tt1", Simkl: 5}))
	assert.False(t, a.ConflictsWith(MediaIDs{TMDB: 9, Title: "Other"}))
	assert.True(t, a.ConflictsWith(MediaIDs{IMDB: "tt1", Trakt: 2}))
	assert.True(t, a.ConflictsWith(MediaIDs{IMDB: "tt2"}))
}
