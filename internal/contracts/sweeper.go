package contracts

import (
	"context"
	"fmt"
	"time"

	"github.com/ericksa/contractd/internal/audit"
	"github.com/ericksa/contractd/internal/metrics"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultStaleAfter is how long a claim may be held before the sweep fails it.
const DefaultStaleAfter = time.Hour

type StaleReclaimer interface {
	ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper periodically fails contracts whose analysis claim was never
// released, typically because the process running it died.
type Sweeper struct {
	repo       StaleReclaimer
	staleAfter time.Duration
	auditor    *audit.Auditor
	metrics    *metrics.Collector
	logger     *zap.Logger
	now        func() time.Time

	cron *cron.Cron
}

func NewSweeper(repo StaleReclaimer, staleAfter time.Duration, auditor *audit.Auditor, m *metrics.Collector, logger *zap.Logger) *Sweeper {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		repo:       repo,
		staleAfter: staleAfter,
		auditor:    auditor,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// RunOnce reclaims every claim older than the staleness window.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.staleAfter)
	n, err := s.repo.ReclaimStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.metrics.Reclaimed(n)
	if n > 0 {
		s.auditor.Log(ctx, "sweeper", audit.ActionStaleReclaimed, fmt.Sprintf("%d claims older than %s", n, cutoff.UTC().Format(time.RFC3339)), nil)
		s.logger.Info("reclaimed stale analysis claims", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// Start schedules RunOnce with a standard cron spec or a descriptor such as
// "@every 5m". Stop ends the schedule.
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("stale claim sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	s.cron = c
	c.Start()
	s.logger.Info("stale claim sweeper started", zap.String("schedule", schedule), zap.Duration("stale_after", s.staleAfter))
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}
