package generator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/qualitystack/quality-core/internal/aggregate"
	"github.com/qualitystack/quality-core/internal/metrics"
	"github.com/qualitystack/quality-core/internal/models"
	"github.com/qualitystack/quality-core/internal/period"
)

// AgentReader defines the narrow warehouse reads for one agent.
type AgentReader interface {
	FetchAgentRateComparison(ctx context.Context, agentID string, current, previous, monthToDate models.PeriodBounds) (models.AgentRateWindows, error)
	FetchAgentEvaluationDetails(ctx context.Context, agentID string, bounds models.PeriodBounds) ([]models.EvaluationRecord, error)
}

// FallbackGenerator reproduces the batch per-agent computation for a single
// agent on cache miss. Concurrent requests for the same agent and period
// collapse onto one in-flight computation; the singleflight slot clears
// itself once the result settles. The generator never writes to the report
// cache store: read-through backfill is the caller's policy decision.
type FallbackGenerator struct {
	logger     *slog.Logger
	warehouse  AgentReader
	calendar   period.Calendar
	aggregator *aggregate.Aggregator
	catalog    models.ItemCatalog
	now        func() time.Time
	group      singleflight.Group
}

// NewFallbackGenerator constructs a fallback generator.
func NewFallbackGenerator(
	logger *slog.Logger,
	warehouse AgentReader,
	calendar period.Calendar,
	catalog models.ItemCatalog,
	now func() time.Time,
) *FallbackGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &FallbackGenerator{
		logger:     logger,
		warehouse:  warehouse,
		calendar:   calendar,
		aggregator: aggregate.NewAggregator(catalog),
		catalog:    catalog,
		now:        now,
	}
}

// GenerateForAgent computes the report for one agent and period on demand.
// All concurrent callers for the same key receive the same result, success
// or failure. Zero interactions yields a zero-rate summary, not an error.
func (g *FallbackGenerator) GenerateForAgent(ctx context.Context, agentID string, periodStart time.Time) (models.CachedWeeklyReport, error) {
	bounds := g.calendar.PeriodFor(periodStart)
	key := agentID + "|" + bounds.Key()

	v, err, shared := g.group.Do(key, func() (any, error) {
		// An abandoned caller must not cancel the computation out from
		// under concurrent waiters sharing this flight.
		return g.compute(context.WithoutCancel(ctx), agentID, bounds)
	})
	if err != nil {
		metrics.ObserveFallback(metrics.OutcomeError, shared)
		return models.CachedWeeklyReport{}, err
	}
	metrics.ObserveFallback(metrics.OutcomeSuccess, shared)
	if shared {
		g.logger.Debug("fallback shared in-flight result",
			slog.String("agent_id", agentID),
			slog.String("period", bounds.Key()))
	}
	return v.(models.CachedWeeklyReport), nil
}

func (g *FallbackGenerator) compute(ctx context.Context, agentID string, bounds models.PeriodBounds) (models.CachedWeeklyReport, error) {
	previous := g.calendar.PreviousPeriod(bounds)
	monthToDate := g.calendar.MonthToDate(bounds)

	windows, err := g.warehouse.FetchAgentRateComparison(ctx, agentID, bounds, previous, monthToDate)
	if err != nil {
		return models.CachedWeeklyReport{}, fmt.Errorf("fetch agent comparisons: %w", err)
	}
	details, err := g.warehouse.FetchAgentEvaluationDetails(ctx, agentID, bounds)
	if err != nil {
		return models.CachedWeeklyReport{}, fmt.Errorf("fetch agent details: %w", err)
	}

	summary := g.aggregator.Aggregate(agentID, bounds, details)

	a := g.catalog.AttitudeCount()
	b := g.catalog.OperationalCount()
	return models.CachedWeeklyReport{
		AgentID:   agentID,
		PeriodKey: bounds.Key(),
		Summary:   summary,
		Comparison: models.RateComparison{
			PrevAttitudeRate:     aggregate.Rate(windows.Previous.AttitudeErrors, windows.Previous.InteractionCount, a),
			PrevOperationalRate:  aggregate.Rate(windows.Previous.OperationalErrs, windows.Previous.InteractionCount, b),
			MonthAttitudeRate:    aggregate.Rate(windows.MonthToDate.AttitudeErrors, windows.MonthToDate.InteractionCount, a),
			MonthOperationalRate: aggregate.Rate(windows.MonthToDate.OperationalErrs, windows.MonthToDate.InteractionCount, b),
		},
		GeneratedAt: g.now().UTC(),
	}, nil
}
