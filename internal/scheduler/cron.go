package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/amaumene/mediasync/internal/config"
	"github.com/amaumene/mediasync/internal/controllers"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultSchedule runs a sync every six hours
const DefaultSchedule = "0 */6 * * *"

// Runner executes one sync run
type Runner interface {
	Run(ctx context.Context, opts controllers.SyncOptions) (*controllers.SyncResult, error)
}

// Scheduler triggers sync runs on a cron schedule
type Scheduler struct {
	cron    *cron.Cron
	entry   cron.EntryID
	runner  Runner
	cfg     config.SchedulerConfig
	opts    controllers.SyncOptions
	logger  *logrus.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	last    *controllers.SyncResult
	lastErr error
	mu      sync.Mutex
}

// NewScheduler creates a new scheduler
func NewScheduler(runner Runner, cfg config.SchedulerConfig, opts controllers.SyncOptions, logger *logrus.Logger) (*Scheduler, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", cfg.Timezone, err)
	}

	clog := cronLogger{logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(clog),
			cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
		),
		runner: runner,
		cfg:    cfg,
		opts:   opts,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.logger.WithFields(logrus.Fields{
		"schedule": s.cfg.Schedule,
		"timezone": s.cron.Location().String(),
	}).Info("Starting scheduler")

	id, err := s.cron.AddFunc(s.cfg.Schedule, s.runSync)
	if err != nil {
		return fmt.Errorf("failed to add sync job: %w", err)
	}
	s.entry = id

	s.cron.Start()
	s.logger.WithField("next_run", s.NextRun()).Info("Scheduler started")

	if s.cfg.RunOnStartup {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runSync()
		}()
	}
	return nil
}

// Stop stops the scheduler and waits for a running sync to finish
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

// NextRun returns the time of the next scheduled sync
func (s *Scheduler) NextRun() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Last returns the outcome of the latest scheduled run
func (s *Scheduler) Last() (*controllers.SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastErr
}

// Trigger runs a sync outside the schedule
func (s *Scheduler) Trigger() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runSync()
	}()
}

// runSync executes the sync job
func (s *Scheduler) runSync() {
	if s.ctx.Err() != nil {
		return
	}
	s.logger.Info("Running scheduled sync")

	result, err := s.runner.Run(s.ctx, s.opts)
	if errors.Is(err, controllers.ErrSyncInProgress) {
		s.logger.Info("Sync already running, skipping")
		return
	}

	s.mu.Lock()
	s.last, s.lastErr = result, err
	s.mu.Unlock()

	switch {
	case err != nil:
		s.logger.WithError(err).Error("Sync job failed")
	case result.HasFailures():
		s.logger.WithField("errors", len(result.Errors)).Warn("Sync job completed with failures")
	default:
		s.logger.WithField("duration", result.Duration).Info("Sync job completed successfully")
	}
}

// cronLogger routes cron's own messages to logrus
type cronLogger struct {
	logger *logrus.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).WithFields(fields(keysAndValues)).Error("cron: " + msg)
}

func fields(keysAndValues []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		f[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return f
}
