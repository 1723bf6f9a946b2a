package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/qualitystack/quality-core/internal/generator"
	"github.com/qualitystack/quality-core/internal/metrics"
	"github.com/qualitystack/quality-core/internal/period"
	"github.com/qualitystack/quality-core/internal/services"
)

// BatchRunner regenerates the report set for a period.
type BatchRunner interface {
	GenerateForPeriod(ctx context.Context, periodStart time.Time) (int, error)
}

// Sweeper advances tracking episodes from a period's reports.
type Sweeper interface {
	ProcessPeriod(ctx context.Context, periodKey string) (services.SweepStats, error)
}

// Scheduler fires the weekly batch shortly after each period closes: it
// regenerates the just-closed period's reports, then runs the tracking
// sweep over them.
type Scheduler struct {
	logger   *slog.Logger
	batch    BatchRunner
	sweeper  Sweeper
	calendar period.Calendar
	schedule string
	now      func() time.Time
	cron     *cron.Cron
}

// New constructs a scheduler from a standard five-field cron expression.
// now may be nil and defaults to the wall clock.
func New(logger *slog.Logger, batch BatchRunner, sweeper Sweeper, calendar period.Calendar, schedule string, now func() time.Time) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		logger:   logger,
		batch:    batch,
		sweeper:  sweeper,
		calendar: calendar,
		schedule: schedule,
		now:      now,
		cron:     cron.New(cron.WithLocation(time.UTC)),
	}
}

// Start registers the cron entry and begins firing. The returned error only
// reflects schedule parsing; job failures are logged and retried on the
// next tick.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.schedule, func() { s.RunOnce(ctx) })
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("batch scheduler started", slog.String("schedule", s.schedule))
	return nil
}

// Stop halts the cron loop and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce executes one scheduled pass for the period that closed most
// recently before now. The tick fires just after a period boundary, so the
// reference date one day back lands inside the closed period.
func (s *Scheduler) RunOnce(ctx context.Context) {
	started := s.now()
	bounds := s.calendar.PeriodFor(started.AddDate(0, 0, -1))

	written, err := s.batch.GenerateForPeriod(ctx, bounds.Start)
	if err != nil {
		if errors.Is(err, generator.ErrPeriodInProgress) {
			s.logger.Warn("scheduled batch skipped, period already running",
				slog.String("period", bounds.Key()))
			return
		}
		metrics.ObserveBatch(time.Since(started), metrics.OutcomeError)
		s.logger.Error("scheduled batch failed",
			slog.String("period", bounds.Key()),
			slog.Any("error", err))
		return
	}

	stats, err := s.sweeper.ProcessPeriod(ctx, bounds.Key())
	if err != nil {
		metrics.ObserveBatch(time.Since(started), metrics.OutcomeError)
		s.logger.Error("scheduled tracking sweep failed",
			slog.String("period", bounds.Key()),
			slog.Any("error", err))
		return
	}

	metrics.ObserveBatch(time.Since(started), metrics.OutcomeSuccess)
	s.logger.Info("scheduled batch complete",
		slog.String("period", bounds.Key()),
		slog.Int("reports", written),
		slog.Int("registered", stats.Registered),
		slog.Int("resolved", stats.Resolved),
		slog.Int("escalated", stats.Escalated),
		slog.Duration("took", time.Since(started)))
}
