/*
scheduler.go - Scheduled batch distribution

PURPOSE:
  Periodically runs DistributeForAllSoldPlots so sold plots whose commission
  is still pending get paid without an admin trigger.

DESIGN:
  - robfig/cron schedule (standard 5-field spec or descriptors like @daily)
  - SkipIfStillRunning: a slow run is never overlapped by the next one
  - The last run's summary is kept for display

CONFIGURATION:
  - Spec:    cron expression (default @daily)
  - Workers: plots processed concurrently per run
  - Enabled: whether the scheduler is active

USAGE:
  scheduler := NewBatchScheduler(engine, "@daily", 2, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RecalculateAll endpoint (manual batch)
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/estatecrm/commission-engine/commission"
)

// BatchRun records one scheduled run.
type BatchRun struct {
	StartedAt time.Time
	Duration  time.Duration
	Summary   *commission.BatchSummary
	Err       error
}

// BatchScheduler handles automated batch distribution.
type BatchScheduler struct {
	Engine  *commission.Distributor
	Spec    string
	Workers int
	Enabled bool
	Timeout time.Duration
	Log     *zap.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	lastRun *BatchRun
}

// NewBatchScheduler creates a new scheduler.
func NewBatchScheduler(engine *commission.Distributor, spec string, workers int, log *zap.Logger) *BatchScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if spec == "" {
		spec = "@daily"
	}
	return &BatchScheduler{
		Engine:  engine,
		Spec:    spec,
		Workers: workers,
		Enabled: true,
		Timeout: 30 * time.Minute,
		Log:     log.Named("scheduler"),
	}
}

// Start begins the scheduler.
func (s *BatchScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Log.Info("scheduler disabled, not starting")
		return nil
	}
	if s.cron != nil {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.Spec, func() { s.RunOnce(context.Background()) }); err != nil {
		return fmt.Errorf("invalid batch schedule %q: %w", s.Spec, err)
	}
	c.Start()
	s.cron = c
	s.Log.Info("scheduler started", zap.String("spec", s.Spec), zap.Int("workers", s.Workers))
	return nil
}

// Stop stops the scheduler and waits for a running batch to finish.
func (s *BatchScheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.Log.Info("scheduler stopped")
}

// RunOnce runs one batch and records it as the last run.
func (s *BatchScheduler) RunOnce(ctx context.Context) *BatchRun {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	run := &BatchRun{StartedAt: time.Now().UTC()}
	s.Log.Info("scheduled batch starting")
	run.Summary, run.Err = s.Engine.DistributeForAllSoldPlots(ctx, commission.BatchOptions{Workers: s.Workers})
	run.Duration = time.Since(run.StartedAt)

	if run.Err != nil {
		s.Log.Error("scheduled batch failed", zap.Error(run.Err))
	} else {
		s.Log.Info("scheduled batch finished",
			zap.Int("processed", run.Summary.Processed),
			zap.Int("succeeded", run.Summary.Succeeded),
			zap.Int("failed", run.Summary.Failed),
			zap.Duration("duration", run.Duration))
	}

	s.mu.Lock()
	s.lastRun = run
	s.mu.Unlock()
	return run
}

// LastRun returns the most recent run, or nil.
func (s *BatchScheduler) LastRun() *BatchRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}
