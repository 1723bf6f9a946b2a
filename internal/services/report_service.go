package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/qualitystack/quality-core/internal/cache"
	"github.com/qualitystack/quality-core/internal/classify"
	"github.com/qualitystack/quality-core/internal/metrics"
	"github.com/qualitystack/quality-core/internal/models"
	"github.com/qualitystack/quality-core/internal/period"
	"github.com/qualitystack/quality-core/internal/repo"
	"github.com/qualitystack/quality-core/internal/utils"
)

// ReportStore defines the cache-store reads the report service needs.
type ReportStore interface {
	Get(ctx context.Context, agentID, periodKey string) (models.CachedWeeklyReport, error)
}

// Fallback defines the on-demand computation path for cache misses.
type Fallback interface {
	GenerateForAgent(ctx context.Context, agentID string, periodStart time.Time) (models.CachedWeeklyReport, error)
}

// ReportPolicy tunes the hot-cache behaviour of the report service.
type ReportPolicy struct {
	ReportTTL        time.Duration
	FallbackTTL      time.Duration
	BackfillFallback bool
}

// ReportService answers weekly report reads: hot cache first, then the
// warehouse cache table, then synchronous fallback computation. Fallback
// results are only ever backfilled into the hot cache, never into the
// warehouse table, so a read can't race a concurrent batch ReplaceAll.
type ReportService struct {
	logger     *slog.Logger
	store      ReportStore
	fallback   Fallback
	hot        cache.Provider
	calendar   period.Calendar
	classifier *classify.Classifier
	policy     ReportPolicy
	latencies  *utils.LatencyTracker
}

// NewReportService constructs the read facade.
func NewReportService(
	logger *slog.Logger,
	store ReportStore,
	fallback Fallback,
	hot cache.Provider,
	calendar period.Calendar,
	classifier *classify.Classifier,
	policy ReportPolicy,
) *ReportService {
	if logger == nil {
		logger = slog.Default()
	}
	if hot == nil {
		hot = cache.NoopProvider{}
	}
	return &ReportService{
		logger:     logger,
		store:      store,
		fallback:   fallback,
		hot:        hot,
		calendar:   calendar,
		classifier: classifier,
		policy:     policy,
		latencies:  utils.NewLatencyTracker(1024),
	}
}

// GetWeeklyReport returns the report for the period containing periodStart.
func (s *ReportService) GetWeeklyReport(ctx context.Context, agentID string, periodStart time.Time) (models.CachedWeeklyReport, error) {
	started := time.Now()
	defer func() {
		s.latencies.Observe(time.Since(started))
		if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
			s.logger.Info("report read latency",
				slog.Duration("p95", s.latencies.Percentile(95)),
				slog.Int("samples", count))
		}
	}()

	bounds := s.calendar.PeriodFor(periodStart)
	hotKey := fmt.Sprintf("report:%s:%s", agentID, bounds.Key())

	if data, err := s.hot.Get(ctx, hotKey); err == nil {
		var report models.CachedWeeklyReport
		if jsonErr := json.Unmarshal(data, &report); jsonErr == nil && report.Summary.SchemaVersion == models.SummarySchemaVersion {
			metrics.ObserveReportLookup(metrics.CacheHot)
			return report, nil
		}
		// Stale or foreign blob; drop it and fall through.
		_ = s.hot.Del(ctx, hotKey)
	}

	report, err := s.store.Get(ctx, agentID, bounds.Key())
	switch {
	case err == nil:
		metrics.ObserveReportLookup(metrics.CacheStore)
		s.backfillHot(ctx, hotKey, report, s.policy.ReportTTL)
		return report, nil
	case errors.Is(err, repo.ErrReportNotFound):
		// Expected miss; compute on demand below.
	default:
		// The table being unreachable should not take down reads that the
		// fallback path can still answer from the warehouse.
		s.logger.Warn("report cache store lookup failed",
			slog.String("agent_id", agentID),
			slog.String("period", bounds.Key()),
			slog.Any("error", err))
	}

	metrics.ObserveReportLookup(metrics.CacheMiss)
	report, err = s.fallback.GenerateForAgent(ctx, agentID, bounds.Start)
	if err != nil {
		return models.CachedWeeklyReport{}, err
	}
	if s.policy.BackfillFallback {
		s.backfillHot(ctx, hotKey, report, s.policy.FallbackTTL)
	}
	return report, nil
}

// GetConsecutiveFlagCount counts how many consecutive weeks, ending with
// the period containing ref, the agent has been flagged. The walk stops at
// the first unflagged week or after lookbackWeeks periods. Upstream uses
// this to mark low-quality candidates independently of episode status.
func (s *ReportService) GetConsecutiveFlagCount(ctx context.Context, agentID, unit string, ref time.Time, lookbackWeeks int) (int, error) {
	if lookbackWeeks <= 0 {
		lookbackWeeks = 12
	}
	th := s.classifier.ThresholdsFor(unit)

	count := 0
	bounds := s.calendar.PeriodFor(ref)
	for i := 0; i < lookbackWeeks; i++ {
		report, err := s.GetWeeklyReport(ctx, agentID, bounds.Start)
		if err != nil {
			return 0, fmt.Errorf("load week %s: %w", bounds.Key(), err)
		}
		if !classify.Classify(report.Summary, th).Flagged {
			break
		}
		count++
		bounds = s.calendar.PreviousPeriod(bounds)
	}
	return count, nil
}

// LatencyP95 returns the current p95 report read latency.
func (s *ReportService) LatencyP95() time.Duration {
	return s.latencies.Percentile(95)
}

func (s *ReportService) backfillHot(ctx context.Context, key string, report models.CachedWeeklyReport, ttl time.Duration) {
	data, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := s.hot.Set(ctx, key, data, ttl); err != nil {
		s.logger.Debug("hot cache set failed", slog.String("key", key), slog.Any("error", err))
	}
}
