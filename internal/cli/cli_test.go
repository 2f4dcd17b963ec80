package cli

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/amaumene/mediasync/internal/config"
	"github.com/amaumene/mediasync/internal/controllers"
	"github.com/amaumene/mediasync/internal/credentials"
	"github.com/amaumene/mediasync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitError, ExitCode(errors.New("boom")))
	assert.Equal(t, ExitFailures, ExitCode(&exitError{code: ExitFailures}))
	assert.Equal(t, ExitError, ExitCode(config.ErrConfigInvalid))
}

func TestConfigInitSetValidate(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "--base-dir", dir, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "config.toml")

	_, err = execute(t, "--base-dir", dir, "config", "validate")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrConfigInvalid)
	assert.Equal(t, ExitError, ExitCode(err))

	for _, kv := range [][2]string{
		{"simkl.enabled", "true"},
		{"simkl.client_id", "simkl-id"},
		{"resolution.source_preference", "simkl"},
	} {
		_, err := execute(t, "--base-dir", dir, "config", "set", kv[0], kv[1])
		require.NoError(t, err)
	}

	out, err = execute(t, "--base-dir", dir, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")
	assert.Contains(t, out, "simkl")
}

func TestConfigSetNeedsTwoArgs(t *testing.T) {
	_, err := execute(t, "--base-dir", t.TempDir(), "config", "set", "server.port")
	assert.Error(t, err)
}

func TestClearRejectsUnknownTarget(t *testing.T) {
	_, err := execute(t, "--base-dir", t.TempDir(), "clear", "everything")
	assert.Error(t, err)
}

func TestClearTimestamps(t *testing.T) {
	dir := t.TempDir()
	store, err := credentials.Open(filepath.Join(dir, "credentials.toml"))
	require.NoError(t, err)
	require.NoError(t, store.Set("trakt_access_token", "tok"))
	require.NoError(t, store.SetLastSync("trakt", models.DataWatchlist, time.Now()))

	out, err := execute(t, "--base-dir", dir, "clear", "timestamps")
	require.NoError(t, err)
	assert.Contains(t, out, "last sync timestamps")

	reopened, err := credentials.Open(filepath.Join(dir, "credentials.toml"))
	require.NoError(t, err)
	_, ok := reopened.LastSync("trakt", models.DataWatchlist)
	assert.False(t, ok)
	_, ok = reopened.Get("trakt_access_token")
	assert.True(t, ok)
}

func TestStatusWithoutRuns(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "--base-dir", dir, "status", "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(out))

	out, err = execute(t, "--base-dir", dir, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No sync has run yet")
}

func TestStatusListsRecordedRuns(t *testing.T) {
	dir := t.TempDir()
	paths, err := config.NewPaths(dir)
	require.NoError(t, err)
	require.NoError(t, paths.Ensure())

	db, err := models.NewDatabase(paths.DatabaseFile)
	require.NoError(t, err)
	started := time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, db.SaveSyncRun(&models.SyncRun{
		ID:         "run-1",
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
		Success:    true,
		Sources:    []models.SourceRunSummary{{Source: "trakt", Pushed: 4}},
	}))
	require.NoError(t, db.Close())

	out, err := execute(t, "--base-dir", dir, "status", "-o", "json-pretty")
	require.NoError(t, err)
	assert.Contains(t, out, `"id": "run-1"`)
	assert.Contains(t, out, `"duration": "3s"`)

	out, err = execute(t, "--base-dir", dir, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "STARTED")
	assert.Contains(t, out, "3s")
}

func TestStatusRejectsUnknownOutput(t *testing.T) {
	_, err := execute(t, "--base-dir", t.TempDir(), "status", "-o", "yaml")
	assert.Error(t, err)
}

func TestSyncFlagsOverrideConfig(t *testing.T) {
	a := &app{cfg: &config.Config{Sync: config.SyncConfig{SyncWatchlist: true, SyncRatings: true}}}

	opts := syncFlags{}.options(a)
	assert.True(t, opts.Watchlist)
	assert.True(t, opts.Ratings)
	assert.False(t, opts.History)

	opts = syncFlags{history: true, forceFull: true, dryRun: []string{" Trakt ", ""}}.options(a)
	assert.False(t, opts.Watchlist)
	assert.False(t, opts.Ratings)
	assert.True(t, opts.History)
	assert.True(t, opts.ForceFull)
	assert.Equal(t, []string{"trakt"}, opts.DryRun)
}

func TestPrintResult(t *testing.T) {
	result := &controllers.SyncResult{
		RunID: "abc",
		PerSource: map[string]*controllers.SourceSummary{
			"trakt": {Fetched: 10, Pushed: 2, Planned: 2},
			"simkl": {Fetched: 8, Failed: 1},
		},
		Errors: []string{"failed to add watchlist on simkl: boom"},
	}

	var out bytes.Buffer
	require.NoError(t, printResult(&out, outputHuman, result))
	assert.Contains(t, out.String(), "Sync completed with failures")
	assert.Contains(t, out.String(), "trakt")
	assert.Contains(t, out.String(), "boom")
	assert.Less(t, strings.Index(out.String(), "simkl"), strings.Index(out.String(), "trakt"))

	out.Reset()
	require.NoError(t, printResult(&out, outputJSON, result))
	assert.Contains(t, out.String(), `"run_id":"abc"`)
}
