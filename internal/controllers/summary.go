package controllers

import (
	"sort"
	"sync"
	"time"

	"github.com/amaumene/mediasync/internal/models"
)

// SourceSummary holds the counters of one source in a run
type SourceSummary struct {
	Fetched  int `json:"fetched"`
	Resolved int `json:"resolved"`
	Planned  int `json:"planned"`
	Pushed   int `json:"pushed"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

// SyncResult is the outcome of one run
type SyncResult struct {
	RunID     string                    `json:"run_id"`
	StartedAt time.Time                 `json:"started_at"`
	Duration  time.Duration             `json:"duration"`
	DryRun    []string                  `json:"dry_run,omitempty"`
	PerSource map[string]*SourceSummary `json:"per_source"`
	Errors    []string                  `json:"errors,omitempty"`

	mu sync.Mutex
}

func newSyncResult(runID string, startedAt time.Time, dryRun []string) *SyncResult {
	return &SyncResult{
		RunID:     runID,
		StartedAt: startedAt,
		DryRun:    dryRun,
		PerSource: make(map[string]*SourceSummary),
	}
}

func (r *SyncResult) summary(source string) *SourceSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.PerSource[source]
	if !ok {
		s = &SourceSummary{}
		r.PerSource[source] = s
	}
	return s
}

func (r *SyncResult) addError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, msg)
}

// HasFailures reports whether any step failed
func (r *SyncResult) HasFailures() bool {
	if len(r.Errors) > 0 {
		return true
	}
	for _, s := range r.PerSource {
		if s.Failed > 0 {
			return true
		}
	}
	return false
}

// NothingToDo reports whether the run found no delta to push anywhere
func (r *SyncResult) NothingToDo() bool {
	if r.HasFailures() {
		return false
	}
	for _, s := range r.PerSource {
		if s.Planned > 0 {
			return false
		}
	}
	return true
}

// Sources returns the source names in a stable order
func (r *SyncResult) Sources() []string {
	names := make([]string, 0, len(r.PerSource))
	for name := range r.PerSource {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Record converts the result into its persisted form
func (r *SyncResult) Record() *models.SyncRun {
	run := &models.SyncRun{
		ID:         r.RunID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.StartedAt.Add(r.Duration),
		DryRun:     len(r.DryRun) > 0,
		Success:    !r.HasFailures(),
		Errors:     append([]string(nil), r.Errors...),
	}
	for _, name := range r.Sources() {
		s := r.PerSource[name]
		run.Sources = append(run.Sources, models.SourceRunSummary{
			Source:   name,
			Fetched:  s.Fetched,
			Resolved: s.Resolved,
			Pushed:   s.Pushed,
			Failed:   s.Failed,
			Skipped:  s.Skipped,
		})
	}
	return run
}
