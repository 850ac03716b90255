// Package scheduler runs periodic maintenance for the relay: tick history
// pruning and state cache refreshes.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MRamiBalles/stface-relay/internal/platform/logger"
)

// TickPruner deletes stored ticks older than a cutoff.
type TickPruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Refresher re-publishes cached state.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Scheduler manages cron jobs for relay maintenance.
type Scheduler struct {
	cron   *cron.Cron
	logger *logger.Logger
	now    func() time.Time
}

// New creates a scheduler. Overlapping runs of the same job are skipped.
func New(log *logger.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: log,
		now:    time.Now,
	}
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Jobs reports how many jobs are scheduled.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// SchedulePrune deletes ticks older than retention every interval.
func (s *Scheduler) SchedulePrune(interval, retention time.Duration, pruner TickPruner) error {
	if retention <= 0 {
		return fmt.Errorf("history retention must be positive, got %v", retention)
	}
	return s.every(interval, "prune", func() {
		s.Prune(context.Background(), retention, pruner)
	})
}

// ScheduleCacheRefresh re-publishes the latest snapshot every interval.
func (s *Scheduler) ScheduleCacheRefresh(interval time.Duration, refresher Refresher) error {
	return s.every(interval, "cache refresh", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := refresher.Refresh(ctx); err != nil {
			s.logger.Warn("Cache refresh failed: " + err.Error())
		}
	})
}

// Prune runs one pruning pass and returns how many ticks were removed.
func (s *Scheduler) Prune(ctx context.Context, retention time.Duration, pruner TickPruner) int64 {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	n, err := pruner.PruneBefore(ctx, s.now().Add(-retention))
	if err != nil {
		s.logger.Error("Tick pruning failed", err)
		return 0
	}
	if n > 0 {
		s.logger.Info("Pruned " + strconv.FormatInt(n, 10) + " ticks older than " + retention.String())
	}
	return n
}

func (s *Scheduler) every(interval time.Duration, name string, job func()) error {
	if interval <= 0 {
		return fmt.Errorf("%s interval must be positive, got %v", name, interval)
	}
	if _, err := s.cron.AddFunc("@every "+interval.String(), job); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	return nil
}
