package idcache

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/amaumene/mediasync/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestInsertMergesOnSharedID(t *testing.T) {
	c := New()
	c.Insert(models.MediaIDs{IMDB: "tt0133093", Title: "The Matrix", Year: 1999, Type: models.MediaTypeMovie})
	c.Insert(models.MediaIDs{IMDB: "tt0133093", Trakt: 481})

	rec := c.FindByAnyID("trakt:481")
	require.NotNil(t, rec)
	assert.Equal(t, "tt0133093", rec.IMDB)
	assert.Equal(t, "The Matrix", rec.Title)
	assert.Same(t, rec, c.FindByAnyID("tt0133093"))
	assert.Equal(t, 1, c.Len())
}

func TestInsertBridgesDisjointRecords(t *testing.T) {
	c := New()
	c.Insert(models.MediaIDs{IMDB: "tt1375666"})
	c.Insert(models.MediaIDs{Trakt: 16662, Title: "Inception", Year: 2010, Type: models.MediaTypeMovie})
	require.Equal(t, 2, c.Len())

	c.Insert(models.MediaIDs{IMDB: "tt1375666", Trakt: 16662, TMDB: 27205})

	byIMDB := c.FindByAnyID("tt1375666")
	require.NotNil(t, byIMDB)
	assert.Same(t, byIMDB, c.FindByAnyID("trakt:16662"))
	assert.Same(t, byIMDB, c.FindByAnyID("tmdb:27205"))
	assert.Same(t, byIMDB, c.FindByTitleYear("Inception", 2010, models.MediaTypeMovie))
	assert.Equal(t, 1, c.Len())
}

func TestInsertKeepsConflictingRecordsApart(t *testing.T) {
	c := New()
	first := c.Insert(models.MediaIDs{IMDB: "tt1", Trakt: 1})
	second := c.Insert(models.MediaIDs{IMDB: "tt2", Trakt: 2})

	canonical := c.Insert(models.MediaIDs{IMDB: "tt1", Trakt: 2, TMDB: 7})
	require.NotNil(t, canonical)
	assert.Equal(t, "tt1", canonical.IMDB)
	assert.Equal(t, uint64(1), canonical.Trakt)
	assert.Equal(t, uint32(7), canonical.TMDB)
	assert.NotSame(t, first, canonical)

	for _, id := range canonical.Keys() {
		assert.Same(t, canonical, c.byKey[id], id)
	}
	assert.Same(t, second, c.FindByAnyID("trakt:2"))
	assert.Same(t, second, c.FindByAnyID("tt2"))
	assert.Equal(t, 2, c.Len())

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "tt1", snap[0].IMDB)
	assert.Equal(t, "tt2", snap[1].IMDB)
}

func TestTitleIndexKeepsFirstRecordOnCollision(t *testing.T) {
	c := New()
	first := c.Insert(models.MediaIDs{IMDB: "tt1", Title: "Solaris", Year: 2002, Type: models.MediaTypeMovie})
	c.Insert(models.MediaIDs{IMDB: "tt2", Title: "Solaris", Year: 2002, Type: models.MediaTypeMovie})

	assert.Same(t, first, c.FindByTitleYear("Solaris", 2002, models.MediaTypeMovie))
}

func TestInsertWithoutIDsIsDropped(t *testing.T) {
	c := New()
	assert.Nil(t, c.Insert(models.MediaIDs{Title: "Nothing", Year: 2000}))
	assert.Equal(t, 0, c.Len())
	assert.False(t, c.IsDirty())
}

func TestInsertWithoutNewInformationKeepsCacheClean(t *testing.T) {
	c := New()
	first := c.Insert(models.MediaIDs{IMDB: "tt1", Trakt: 2})
	c.MarkClean()

	again := c.Insert(models.MediaIDs{Trakt: 2})
	assert.Same(t, first, again)
	assert.False(t, c.IsDirty())
}

func TestFindByAnyIDGrammar(t *testing.T) {
	c := New()
	c.Insert(models.MediaIDs{
		IMDB:           "tt0903747",
		Trakt:          1388,
		Simkl:          11121,
		TMDB:           1396,
		TVDB:           81189,
		Slug:           "breaking-bad",
		MediaServerKey: "5d9c086c46115600200aa2fe",
	})

	for _, id := range []string{
		"tt0903747",
		"trakt:1388",
		"simkl:11121",
		"tmdb:1396",
		"tvdb:81189",
		"breaking-bad",
		"5d9c086c46115600200aa2fe",
		" tt0903747 ",
	} {
		rec := c.FindByAnyID(id)
		if assert.NotNil(t, rec, id) {
			assert.Equal(t, "tt0903747", rec.IMDB)
		}
	}

	assert.Nil(t, c.FindByAnyID("trakt:1"))
	assert.Nil(t, c.FindByAnyID(""))
	assert.Nil(t, c.FindByAnyID("unknown-slug"))
}

func TestFindByTitleYearIsCaseInsensitive(t *testing.T) {
	c := New()
	c.Insert(models.MediaIDs{IMDB: "tt0816692", Title: "Interstellar", Year: 2014, Type: models.MediaTypeMovie})

	assert.NotNil(t, c.FindByTitleYear("  INTERSTELLAR ", 2014, models.MediaTypeMovie))
	assert.Nil(t, c.FindByTitleYear("Interstellar", 2015, models.MediaTypeMovie))
	assert.Nil(t, c.FindByTitleYear("Interstellar", 2014, models.MediaTypeShow))
}

func TestSnapshotDeduplicatesRecords(t *testing.T) {
	c := New()
	c.Insert(models.MediaIDs{IMDB: "tt1", Trakt: 1, Simkl: 1})
	c.Insert(models.MediaIDs{IMDB: "tt2"})

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "tt1", snap[0].IMDB)
	assert.Equal(t, "tt2", snap[1].IMDB)
}

func TestStorageRoundTrip(t *testing.T) {
	for _, compress := range []bool{true, false} {
		dir := t.TempDir()
		storage := NewStorage(dir, testLogger())
		storage.SetCompression(compress)

		c := New()
		c.Insert(models.MediaIDs{IMDB: "tt0133093", Trakt: 481, Title: "The Matrix", Year: 1999, Type: models.MediaTypeMovie})
		c.Insert(models.MediaIDs{Simkl: 77, Type: models.EpisodeType(1, 2)})
		require.NoError(t, storage.Save(c))
		assert.False(t, c.IsDirty())
		assert.True(t, storage.Exists())

		_, err := os.Stat(filepath.Join(dir, tempFileName))
		assert.True(t, os.IsNotExist(err))

		loaded, err := storage.Load()
		require.NoError(t, err)
		assert.Equal(t, c.Snapshot(), loaded.Snapshot())
		assert.NotNil(t, loaded.FindByTitleYear("the matrix", 1999, models.MediaTypeMovie))
		assert.False(t, loaded.IsDirty())
	}
}

func TestStorageLoadMissingFile(t *testing.T) {
	storage := NewStorage(t.TempDir(), testLogger())

	c, err := storage.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestStorageLoadCorruptFileBacksUp(t *testing.T) {
	dir := t.TempDir()
	storage := NewStorage(dir, testLogger())
	require.NoError(t, os.WriteFile(storage.Path(), []byte("definitely not gob"), 0600))

	c, err := storage.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())

	backup, err := os.ReadFile(storage.Path() + backupSuffix)
	require.NoError(t, err)
	assert.Equal(t, "definitely not gob", string(backup))

	require.NoError(t, storage.Clear())
	assert.False(t, storage.Exists())
}
