package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/timshannon/bolthold"
	"go.etcd.io/bbolt"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = bolthold.ErrNotFound

// SyncRun is the persisted outcome of one sync run
type SyncRun struct {
	ID         string    `boltholdKey:"ID"`
	StartedAt  time.Time `boltholdIndex:"StartedAt"`
	FinishedAt time.Time
	DryRun     bool
	Success    bool
	Sources    []SourceRunSummary
	Errors     []string
}

// SourceRunSummary holds per-source counters of a run
type SourceRunSummary struct {
	Source   string
	Fetched  int
	Resolved int
	Pushed   int
	Failed   int
	Skipped  int
}

// Duration returns how long the run took
func (r *SyncRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Database wraps the bolthold store
type Database struct {
	store *bolthold.Store
}

// NewDatabase creates a new database connection
func NewDatabase(path string) (*Database, error) {
	store, err := bolthold.Open(path, 0600, &bolthold.Options{
		Options: &bbolt.Options{
			Timeout: 1 * time.Second,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Database{store: store}, nil
}

// Close closes the database connection
func (db *Database) Close() error {
	return db.store.Close()
}

// SaveSyncRun inserts or replaces a sync run
func (db *Database) SaveSyncRun(run *SyncRun) error {
	if run.ID == "" {
		return errors.New("sync run has no ID")
	}
	return db.store.Upsert(run.ID, run)
}

// GetSyncRun retrieves a sync run by ID
func (db *Database) GetSyncRun(id string) (*SyncRun, error) {
	var run SyncRun
	if err := db.store.Get(id, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListSyncRuns returns the most recent runs first. A limit of 0 returns every run.
func (db *Database) ListSyncRuns(limit int) ([]*SyncRun, error) {
	query := (&bolthold.Query{}).SortBy("StartedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var runs []*SyncRun
	if err := db.store.Find(&runs, query); err != nil {
		return nil, err
	}
	return runs, nil
}

// LatestSyncRun returns the most recent run
func (db *Database) LatestSyncRun() (*SyncRun, error) {
	runs, err := db.ListSyncRuns(1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	return runs[0], nil
}

// PruneSyncRuns keeps only the newest keep runs
func (db *Database) PruneSyncRuns(keep int) error {
	runs, err := db.ListSyncRuns(0)
	if err != nil {
		return err
	}
	if len(runs) <= keep {
		return nil
	}

	for _, run := range runs[keep:] {
		if err := db.store.Delete(run.ID, &SyncRun{}); err != nil {
			return fmt.Errorf("failed to delete sync run %s: %w", run.ID, err)
		}
	}
	return nil
}

// DeleteAllSyncRuns removes the whole run history
func (db *Database) DeleteAllSyncRuns() error {
	return db.store.DeleteMatching(&SyncRun{}, nil)
}
