package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediasync_sync_runs_total",
		Help: "Total number of sync runs by outcome",
	}, []string{"outcome"})

	syncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mediasync_sync_duration_seconds",
		Help:    "Duration of sync runs in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})

	itemsFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediasync_items_fetched_total",
		Help: "Items collected from sources",
	}, []string{"source", "type"})

	itemsPushed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediasync_items_pushed_total",
		Help: "Items written to sources",
	}, []string{"source", "type", "action"})

	pushFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediasync_push_failures_total",
		Help: "Failed mutation calls",
	}, []string{"source", "type"})

	lastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mediasync_last_success_timestamp_seconds",
		Help: "Unix time of the last sync run without failures",
	})

	progressDone = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mediasync_progress_done",
		Help: "Items processed in the current phase",
	})

	progressTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mediasync_progress_total",
		Help: "Items expected in the current phase",
	})

	idCacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mediasync_id_cache_entries",
		Help: "Records held by the identity cache",
	})
)

// RecordRun records the outcome and duration of a sync run
func RecordRun(failed bool, duration time.Duration) {
	outcome := "success"
	if failed {
		outcome = "failure"
	} else {
		lastSuccess.SetToCurrentTime()
	}
	syncRunsTotal.WithLabelValues(outcome).Inc()
	syncDuration.Observe(duration.Seconds())
}

// RecordFetched adds collected items
func RecordFetched(source, dataType string, n int) {
	itemsFetched.WithLabelValues(source, dataType).Add(float64(n))
}

// RecordPushed adds items written by a mutation
func RecordPushed(source, dataType, action string, n int) {
	itemsPushed.WithLabelValues(source, dataType, action).Add(float64(n))
}

// RecordPushFailure counts a failed mutation
func RecordPushFailure(source, dataType string) {
	pushFailures.WithLabelValues(source, dataType).Inc()
}

// SetIDCacheEntries publishes the identity cache size
func SetIDCacheEntries(n int) {
	idCacheEntries.Set(float64(n))
}

// Progress is the item counter of the running phase. It is safe for concurrent use.
type Progress struct {
	phase atomic.Value
	done  atomic.Int64
	total atomic.Int64
}

// NewProgress creates an idle progress counter
func NewProgress() *Progress {
	p := &Progress{}
	p.phase.Store("")
	return p
}

// Start begins a phase expecting total items
func (p *Progress) Start(phase string, total int) {
	p.phase.Store(phase)
	p.done.Store(0)
	p.total.Store(int64(total))
	progressDone.Set(0)
	progressTotal.Set(float64(total))
}

// Add marks n more items as processed
func (p *Progress) Add(n int) {
	progressDone.Set(float64(p.done.Add(int64(n))))
}

// Snapshot returns the phase name and its counters
func (p *Progress) Snapshot() (phase string, done, total int64) {
	return p.phase.Load().(string), p.done.Load(), p.total.Load()
}
