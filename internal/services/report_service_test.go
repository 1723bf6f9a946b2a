package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/qualitystack/quality-core/internal/cache"
	"github.com/qualitystack/quality-core/internal/classify"
	"github.com/qualitystack/quality-core/internal/models"
	"github.com/qualitystack/quality-core/internal/period"
	"github.com/qualitystack/quality-core/internal/repo"
	"github.com/qualitystack/quality-core/internal/utils"
)

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (m *memCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if data, ok := m.data[key]; ok {
		return data, nil
	}
	return nil, cache.ErrCacheMiss
}

func (m *memCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.sets++
	return nil
}

func (m *memCache) Del(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memCache) Close() error { return nil }

type reportStoreStub struct {
	reports map[string]models.CachedWeeklyReport
	err     error
	calls   int
}

func (s *reportStoreStub) Get(ctx context.Context, agentID, periodKey string) (models.CachedWeeklyReport, error) {
	s.calls++
	if s.err != nil {
		return models.CachedWeeklyReport{}, s.err
	}
	if report, ok := s.reports[agentID+"|"+periodKey]; ok {
		return report, nil
	}
	return models.CachedWeeklyReport{}, repo.ErrReportNotFound
}

type fallbackStub struct {
	report models.CachedWeeklyReport
	err    error
	calls  int
}

func (f *fallbackStub) GenerateForAgent(ctx context.Context, agentID string, periodStart time.Time) (models.CachedWeeklyReport, error) {
	f.calls++
	return f.report, f.err
}

func storedReport(agentID, periodKey string, attitudeRate float64) models.CachedWeeklyReport {
	start, _ := time.Parse("2006-01-02", periodKey)
	return models.CachedWeeklyReport{
		AgentID:   agentID,
		PeriodKey: periodKey,
		Summary: models.WeeklyMetricSummary{
			SchemaVersion:    models.SummarySchemaVersion,
			AgentID:          agentID,
			Period:           models.PeriodBounds{Start: start.UTC(), End: start.UTC().AddDate(0, 0, 6)},
			InteractionCount: 10,
			AttitudeRate:     attitudeRate,
		},
		GeneratedAt: start.UTC(),
	}
}

func testClassifier() *classify.Classifier {
	return classify.NewClassifier(models.Thresholds{AttitudeRate: 3.3, OperationalRate: 3.9}, nil, nil)
}

func newTestReportService(store ReportStore, fallback Fallback, hot cache.Provider, backfill bool) *ReportService {
	return NewReportService(nil, store, fallback, hot, period.NewCalendar(time.Thursday), testClassifier(), ReportPolicy{
		ReportTTL:        time.Minute,
		FallbackTTL:      time.Minute,
		BackfillFallback: backfill,
	})
}

func TestGetWeeklyReportStoreHitBackfillsHotCache(t *testing.T) {
	store := &reportStoreStub{reports: map[string]models.CachedWeeklyReport{
		"a1|2025-01-02": storedReport("a1", "2025-01-02", 2.0),
	}}
	hot := newMemCache()
	svc := newTestReportService(store, &fallbackStub{}, hot, true)

	report, err := svc.GetWeeklyReport(context.Background(), "a1", time.Date(2025, time.January, 4, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.PeriodKey != "2025-01-02" {
		t.Fatalf("expected period 2025-01-02, got %s", report.PeriodKey)
	}
	if hot.sets != 1 {
		t.Fatalf("store hit must backfill the hot cache")
	}

	// Second read is answered by the hot cache without touching the store.
	if _, err := svc.GetWeeklyReport(context.Background(), "a1", time.Date(2025, time.January, 4, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.calls != 1 {
		t.Fatalf("hot hit must not reach the store, got %d store calls", store.calls)
	}
}

func TestGetWeeklyReportMissFallsBack(t *testing.T) {
	fallback := &fallbackStub{report: storedReport("a1", "2025-01-02", 1.0)}
	hot := newMemCache()
	svc := newTestReportService(&reportStoreStub{}, fallback, hot, true)

	report, err := svc.GetWeeklyReport(context.Background(), "a1", time.Date(2025, time.January, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fallback.calls != 1 {
		t.Fatalf("expected 1 fallback computation, got %d", fallback.calls)
	}
	if report.AgentID != "a1" {
		t.Fatalf("expected fallback report, got %+v", report)
	}
	if hot.sets != 1 {
		t.Fatalf("fallback result must be backfilled into the hot cache")
	}
}

func TestGetWeeklyReportMissWithoutBackfill(t *testing.T) {
	fallback := &fallbackStub{report: storedReport("a1", "2025-01-02", 1.0)}
	hot := newMemCache()
	svc := newTestReportService(&reportStoreStub{}, fallback, hot, false)

	if _, err := svc.GetWeeklyReport(context.Background(), "a1", time.Date(2025, time.January, 2, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hot.sets != 0 {
		t.Fatalf("backfill disabled must leave the hot cache untouched")
	}
}

func TestGetWeeklyReportStoreErrorDegradesToFallback(t *testing.T) {
	store := &reportStoreStub{err: utils.NewAppError("reportcache.get", utils.KindTransient, "lookup failed", errors.New("connection refused"))}
	fallback := &fallbackStub{report: storedReport("a1", "2025-01-02", 1.0)}
	svc := newTestReportService(store, fallback, newMemCache(), true)

	report, err := svc.GetWeeklyReport(context.Background(), "a1", time.Date(2025, time.January, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("store outage must not fail the read, got %v", err)
	}
	if report.AgentID != "a1" || fallback.calls != 1 {
		t.Fatalf("expected fallback to answer, got %+v", report)
	}
}

func TestGetWeeklyReportDropsStaleHotEntry(t *testing.T) {
	store := &reportStoreStub{reports: map[string]models.CachedWeeklyReport{
		"a1|2025-01-02": storedReport("a1", "2025-01-02", 2.0),
	}}
	hot := newMemCache()

	stale := storedReport("a1", "2025-01-02", 9.9)
	stale.Summary.SchemaVersion = 99
	data, _ := json.Marshal(stale)
	hot.data["report:a1:2025-01-02"] = data

	svc := newTestReportService(store, &fallbackStub{}, hot, true)

	report, err := svc.GetWeeklyReport(context.Background(), "a1", time.Date(2025, time.January, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Summary.AttitudeRate != 2.0 {
		t.Fatalf("stale hot entry must be ignored, got rate %f", report.Summary.AttitudeRate)
	}
	if store.calls != 1 {
		t.Fatalf("expected the store to answer after dropping the stale entry")
	}
}

func TestGetConsecutiveFlagCount(t *testing.T) {
	// Flagged for the two most recent weeks, compliant the week before.
	store := &reportStoreStub{reports: map[string]models.CachedWeeklyReport{
		"a1|2025-01-16": storedReport("a1", "2025-01-16", 4.5),
		"a1|2025-01-09": storedReport("a1", "2025-01-09", 4.0),
		"a1|2025-01-02": storedReport("a1", "2025-01-02", 1.0),
	}}
	svc := newTestReportService(store, &fallbackStub{}, newMemCache(), false)

	count, err := svc.GetConsecutiveFlagCount(context.Background(), "a1", "",
		time.Date(2025, time.January, 16, 0, 0, 0, 0, time.UTC), 12)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 consecutive flagged weeks, got %d", count)
	}
}

func TestGetConsecutiveFlagCountHonoursLookback(t *testing.T) {
	store := &reportStoreStub{reports: map[string]models.CachedWeeklyReport{
		"a1|2025-01-16": storedReport("a1", "2025-01-16", 4.5),
		"a1|2025-01-09": storedReport("a1", "2025-01-09", 4.0),
	}}
	svc := newTestReportService(store, &fallbackStub{}, newMemCache(), false)

	count, err := svc.GetConsecutiveFlagCount(context.Background(), "a1", "",
		time.Date(2025, time.January, 16, 0, 0, 0, 0, time.UTC), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("lookback must cap the walk, got %d", count)
	}
}
