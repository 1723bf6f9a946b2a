package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/qualitystack/quality-core/internal/aggregate"
	"github.com/qualitystack/quality-core/internal/models"
	"github.com/qualitystack/quality-core/internal/period"
)

// ErrPeriodInProgress signals that a batch run for the same period is
// already underway in this process.
var ErrPeriodInProgress = errors.New("batch generation already running for period")

// SummaryReader defines the bulk warehouse reads used by the batch pass.
type SummaryReader interface {
	FetchRateComparisons(ctx context.Context, current, previous, monthToDate models.PeriodBounds) ([]models.AgentRateWindows, error)
	FetchEvaluationDetails(ctx context.Context, bounds models.PeriodBounds) ([]models.EvaluationRecord, error)
}

// ReportWriter defines the cache-store write used by the batch pass.
type ReportWriter interface {
	ReplaceAll(ctx context.Context, periodKey string, reports []models.CachedWeeklyReport) (int, error)
}

// BatchGenerator produces the full report set for one period: two bulk
// reads, per-agent aggregation in memory, one full-replace write. Re-running
// it for the same period leaves the store in the same state.
type BatchGenerator struct {
	logger     *slog.Logger
	warehouse  SummaryReader
	store      ReportWriter
	calendar   period.Calendar
	aggregator *aggregate.Aggregator
	catalog    models.ItemCatalog
	now        func() time.Time

	mu      sync.Mutex
	running map[string]struct{}
}

// NewBatchGenerator constructs a batch generator. now may be nil and
// defaults to the wall clock; tests inject a fixed clock.
func NewBatchGenerator(
	logger *slog.Logger,
	warehouse SummaryReader,
	store ReportWriter,
	calendar period.Calendar,
	catalog models.ItemCatalog,
	now func() time.Time,
) *BatchGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &BatchGenerator{
		logger:     logger,
		warehouse:  warehouse,
		store:      store,
		calendar:   calendar,
		aggregator: aggregate.NewAggregator(catalog),
		catalog:    catalog,
		now:        now,
		running:    make(map[string]struct{}),
	}
}

// GenerateForPeriod regenerates every agent's cached report for the period
// containing periodStart and returns the number of reports written. Zero
// agents with data is a valid outcome, not an error: the store is still
// cleared of any stale generation for the period.
func (g *BatchGenerator) GenerateForPeriod(ctx context.Context, periodStart time.Time) (int, error) {
	bounds := g.calendar.PeriodFor(periodStart)
	key := bounds.Key()

	if !g.begin(key) {
		return 0, fmt.Errorf("%w: %s", ErrPeriodInProgress, key)
	}
	defer g.end(key)

	previous := g.calendar.PreviousPeriod(bounds)
	monthToDate := g.calendar.MonthToDate(bounds)

	comparisons, err := g.warehouse.FetchRateComparisons(ctx, bounds, previous, monthToDate)
	if err != nil {
		return 0, fmt.Errorf("fetch rate comparisons: %w", err)
	}
	details, err := g.warehouse.FetchEvaluationDetails(ctx, bounds)
	if err != nil {
		return 0, fmt.Errorf("fetch evaluation details: %w", err)
	}

	byAgent := groupByAgent(details)
	windows := make(map[string]models.AgentRateWindows, len(comparisons))
	for _, cmp := range comparisons {
		windows[cmp.AgentID] = cmp
	}

	agents := make([]string, 0, len(byAgent))
	for agentID := range byAgent {
		agents = append(agents, agentID)
	}
	sort.Strings(agents)

	generatedAt := g.now().UTC()
	reports := make([]models.CachedWeeklyReport, 0, len(agents))
	for _, agentID := range agents {
		summary := g.aggregator.Aggregate(agentID, bounds, byAgent[agentID])
		reports = append(reports, models.CachedWeeklyReport{
			AgentID:     agentID,
			PeriodKey:   key,
			Summary:     summary,
			Comparison:  g.comparisonFor(windows[agentID]),
			GeneratedAt: generatedAt,
		})
	}

	written, err := g.store.ReplaceAll(ctx, key, reports)
	if err != nil {
		return 0, fmt.Errorf("replace reports for period %s: %w", key, err)
	}

	g.logger.Info("batch generation complete",
		slog.String("period", key),
		slog.Int("agents", written))
	return written, nil
}

// comparisonFor converts window counts into the comparison rates stored
// alongside each summary, using the same rate formula as the aggregator.
func (g *BatchGenerator) comparisonFor(w models.AgentRateWindows) models.RateComparison {
	a := g.catalog.AttitudeCount()
	b := g.catalog.OperationalCount()
	return models.RateComparison{
		PrevAttitudeRate:     aggregate.Rate(w.Previous.AttitudeErrors, w.Previous.InteractionCount, a),
		PrevOperationalRate:  aggregate.Rate(w.Previous.OperationalErrs, w.Previous.InteractionCount, b),
		MonthAttitudeRate:    aggregate.Rate(w.MonthToDate.AttitudeErrors, w.MonthToDate.InteractionCount, a),
		MonthOperationalRate: aggregate.Rate(w.MonthToDate.OperationalErrs, w.MonthToDate.InteractionCount, b),
	}
}

func (g *BatchGenerator) begin(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.running[key]; busy {
		return false
	}
	g.running[key] = struct{}{}
	return true
}

func (g *BatchGenerator) end(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.running, key)
}

func groupByAgent(records []models.EvaluationRecord) map[string][]models.EvaluationRecord {
	grouped := make(map[string][]models.EvaluationRecord)
	for _, rec := range records {
		grouped[rec.AgentID] = append(grouped[rec.AgentID], rec)
	}
	return grouped
}
