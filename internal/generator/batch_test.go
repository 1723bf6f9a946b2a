package generator

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/qualitystack/quality-core/internal/models"
	"github.com/qualitystack/quality-core/internal/period"
)

func testCatalog() models.ItemCatalog {
	return models.ItemCatalog{
		Attitude: []models.ChecklistItem{
			{Code: "att_tone", Label: "Unprofessional tone"},
			{Code: "att_empathy", Label: "Lacked empathy"},
		},
		Operational: []models.ChecklistItem{
			{Code: "ops_verify", Label: "Skipped identity verification"},
			{Code: "ops_record", Label: "Incomplete interaction record"},
			{Code: "ops_script", Label: "Mandatory script omitted"},
			{Code: "ops_policy", Label: "Policy misquoted"},
		},
	}
}

type warehouseStub struct {
	comparisons []models.AgentRateWindows
	details     []models.EvaluationRecord

	enteredFetch chan struct{}
	releaseFetch chan struct{}
	enterOnce    sync.Once
}

func (w *warehouseStub) FetchRateComparisons(ctx context.Context, current, previous, monthToDate models.PeriodBounds) ([]models.AgentRateWindows, error) {
	if w.enteredFetch != nil {
		w.enterOnce.Do(func() { close(w.enteredFetch) })
	}
	if w.releaseFetch != nil {
		<-w.releaseFetch
	}
	return w.comparisons, nil
}

func (w *warehouseStub) FetchEvaluationDetails(ctx context.Context, bounds models.PeriodBounds) ([]models.EvaluationRecord, error) {
	return w.details, nil
}

type storeStub struct {
	mu       sync.Mutex
	replaced map[string][]models.CachedWeeklyReport
}

func (s *storeStub) ReplaceAll(ctx context.Context, periodKey string, reports []models.CachedWeeklyReport) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replaced == nil {
		s.replaced = make(map[string][]models.CachedWeeklyReport)
	}
	s.replaced[periodKey] = reports
	return len(reports), nil
}

func fixedClock() time.Time {
	return time.Date(2025, time.January, 9, 0, 15, 0, 0, time.UTC)
}

func TestGenerateForPeriod(t *testing.T) {
	start := time.Date(2025, time.January, 2, 0, 0, 0, 0, time.UTC)
	warehouse := &warehouseStub{
		comparisons: []models.AgentRateWindows{
			{
				AgentID:  "a1",
				Previous: models.RateWindowStats{InteractionCount: 10, AttitudeErrors: 1},
			},
		},
		details: []models.EvaluationRecord{
			{AgentID: "a1", InteractionID: "i1", EvaluatedAt: start, FlaggedItems: []string{"att_tone"}},
			{AgentID: "a2", InteractionID: "i2", EvaluatedAt: start, FlaggedItems: []string{"ops_verify"}},
		},
	}
	store := &storeStub{}
	gen := NewBatchGenerator(nil, warehouse, store, period.NewCalendar(time.Thursday), testCatalog(), fixedClock)

	written, err := gen.GenerateForPeriod(context.Background(), start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if written != 2 {
		t.Fatalf("expected 2 reports written, got %d", written)
	}

	reports := store.replaced["2025-01-02"]
	if len(reports) != 2 {
		t.Fatalf("expected 2 reports in the store, got %d", len(reports))
	}
	// Agents come out in sorted order.
	if reports[0].AgentID != "a1" || reports[1].AgentID != "a2" {
		t.Fatalf("expected sorted agents, got %s / %s", reports[0].AgentID, reports[1].AgentID)
	}
	// a1: 1 attitude error over 1 interaction x 2 items = 50%.
	if reports[0].Summary.AttitudeRate != 50.0 {
		t.Fatalf("expected attitude rate 50.0, got %f", reports[0].Summary.AttitudeRate)
	}
	// Previous week: 1 error over 10 x 2 slots = 5%.
	if reports[0].Comparison.PrevAttitudeRate != 5.0 {
		t.Fatalf("expected previous rate 5.0, got %f", reports[0].Comparison.PrevAttitudeRate)
	}
	if !reports[0].GeneratedAt.Equal(fixedClock()) {
		t.Fatalf("reports must carry the injected clock time")
	}
}

func TestGenerateForPeriodIsIdempotent(t *testing.T) {
	start := time.Date(2025, time.January, 2, 0, 0, 0, 0, time.UTC)
	warehouse := &warehouseStub{
		comparisons: []models.AgentRateWindows{
			{AgentID: "a1", Previous: models.RateWindowStats{InteractionCount: 10, AttitudeErrors: 1}},
		},
		details: []models.EvaluationRecord{
			{AgentID: "a1", InteractionID: "i1", EvaluatedAt: start, FlaggedItems: []string{"att_tone"}},
			{AgentID: "a2", InteractionID: "i2", EvaluatedAt: start, FlaggedItems: []string{"ops_verify"}},
		},
	}
	store := &storeStub{}
	gen := NewBatchGenerator(nil, warehouse, store, period.NewCalendar(time.Thursday), testCatalog(), fixedClock)

	if _, err := gen.GenerateForPeriod(context.Background(), start); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	first := store.replaced["2025-01-02"]

	if _, err := gen.GenerateForPeriod(context.Background(), start); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	second := store.replaced["2025-01-02"]

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("reruns must leave the store state identical:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestGenerateForPeriodEmptyStillReplaces(t *testing.T) {
	store := &storeStub{}
	gen := NewBatchGenerator(nil, &warehouseStub{}, store, period.NewCalendar(time.Thursday), testCatalog(), fixedClock)

	written, err := gen.GenerateForPeriod(context.Background(), time.Date(2025, time.January, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if written != 0 {
		t.Fatalf("expected 0 reports, got %d", written)
	}
	if _, ok := store.replaced["2025-01-02"]; !ok {
		t.Fatalf("an empty period must still clear the prior generation")
	}
}

func TestGenerateForPeriodRejectsConcurrentRun(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	warehouse := &warehouseStub{enteredFetch: entered, releaseFetch: release}
	gen := NewBatchGenerator(nil, warehouse, &storeStub{}, period.NewCalendar(time.Thursday), testCatalog(), fixedClock)

	start := time.Date(2025, time.January, 2, 0, 0, 0, 0, time.UTC)
	done := make(chan error, 1)
	go func() {
		_, err := gen.GenerateForPeriod(context.Background(), start)
		done <- err
	}()

	// Wait until the first run is parked inside the warehouse fetch.
	<-entered

	if _, err := gen.GenerateForPeriod(context.Background(), start); !errors.Is(err, ErrPeriodInProgress) {
		t.Fatalf("expected ErrPeriodInProgress, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	// The guard clears once the run completes.
	if _, err := gen.GenerateForPeriod(context.Background(), start); err != nil {
		t.Fatalf("rerun after completion failed: %v", err)
	}
}
