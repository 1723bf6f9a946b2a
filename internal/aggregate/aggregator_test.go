package aggregate

import (
	"testing"
	"time"

	"github.com/qualitystack/quality-core/internal/models"
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

func testBounds() models.PeriodBounds {
	start := time.Date(2025, time.January, 2, 0, 0, 0, 0, time.UTC)
	return models.PeriodBounds{Start: start, End: start.AddDate(0, 0, 6)}
}

func TestRate(t *testing.T) {
	// 5 errors over 10 interactions x 5 items = 10%.
	if got := Rate(5, 10, 5); got != 10.0 {
		t.Fatalf("expected rate 10.0, got %f", got)
	}
	if got := Rate(3, 0, 5); got != 0 {
		t.Fatalf("zero interactions must yield rate 0, got %f", got)
	}
	if got := Rate(3, 10, 0); got != 0 {
		t.Fatalf("empty category must yield rate 0, got %f", got)
	}
}

func TestAggregateCountsAndRates(t *testing.T) {
	agg := NewAggregator(testCatalog())
	records := []models.EvaluationRecord{
		{AgentID: "a1", InteractionID: "i1", FlaggedItems: []string{"att_tone", "ops_verify"}},
		{AgentID: "a1", InteractionID: "i2", FlaggedItems: []string{"att_tone", "bogus_code"}},
	}

	summary := agg.Aggregate("a1", testBounds(), records)

	if summary.InteractionCount != 2 {
		t.Fatalf("expected 2 interactions, got %d", summary.InteractionCount)
	}
	if summary.AttitudeErrors != 2 || summary.OperationalErrs != 1 {
		t.Fatalf("expected 2 attitude / 1 operational, got %d / %d",
			summary.AttitudeErrors, summary.OperationalErrs)
	}
	// 2 / (2 x 2) = 50%, 1 / (2 x 4) = 12.5%.
	if summary.AttitudeRate != 50.0 {
		t.Fatalf("expected attitude rate 50.0, got %f", summary.AttitudeRate)
	}
	if summary.OperationalRate != 12.5 {
		t.Fatalf("expected operational rate 12.5, got %f", summary.OperationalRate)
	}
	if summary.ItemCounts["bogus_code"] != 0 {
		t.Fatalf("codes outside the catalog must not be counted")
	}
	if summary.SchemaVersion != models.SummarySchemaVersion {
		t.Fatalf("summary must carry the current schema version")
	}
}

func TestAggregateZeroInteractions(t *testing.T) {
	agg := NewAggregator(testCatalog())

	summary := agg.Aggregate("a1", testBounds(), nil)
	if summary.AttitudeRate != 0 || summary.OperationalRate != 0 {
		t.Fatalf("no data must yield zero rates, got %f / %f",
			summary.AttitudeRate, summary.OperationalRate)
	}
	if len(summary.TopItems) != 0 {
		t.Fatalf("no data must yield no top items")
	}
}

func TestAggregateInteractionDetailLabels(t *testing.T) {
	agg := NewAggregator(testCatalog())
	records := []models.EvaluationRecord{
		{AgentID: "a1", InteractionID: "i1", ServiceTag: "billing", FlaggedItems: []string{"ops_verify"}},
	}

	summary := agg.Aggregate("a1", testBounds(), records)
	if len(summary.Interactions) != 1 {
		t.Fatalf("expected 1 interaction detail, got %d", len(summary.Interactions))
	}
	detail := summary.Interactions[0]
	if len(detail.ItemLabels) != 1 || detail.ItemLabels[0] != "Skipped identity verification" {
		t.Fatalf("expected resolved item label, got %v", detail.ItemLabels)
	}
}

func TestTopItemsRankingAndTieBreak(t *testing.T) {
	agg := NewAggregator(testCatalog())
	records := []models.EvaluationRecord{
		{InteractionID: "i1", FlaggedItems: []string{"ops_policy", "att_empathy"}},
		{InteractionID: "i2", FlaggedItems: []string{"ops_policy"}},
		{InteractionID: "i3", FlaggedItems: []string{"att_tone"}},
	}

	summary := agg.Aggregate("a1", testBounds(), records)

	if summary.TopItems[0].Code != "ops_policy" || summary.TopItems[0].Count != 2 {
		t.Fatalf("expected ops_policy first with count 2, got %+v", summary.TopItems[0])
	}
	// att_tone and att_empathy tie at 1; catalog order puts att_tone first.
	if summary.TopItems[1].Code != "att_tone" || summary.TopItems[2].Code != "att_empathy" {
		t.Fatalf("tie must break by catalog order, got %+v", summary.TopItems)
	}
}

func TestTopItemsCapped(t *testing.T) {
	agg := NewAggregator(testCatalog())
	records := []models.EvaluationRecord{
		{InteractionID: "i1", FlaggedItems: []string{
			"att_tone", "att_empathy", "ops_verify", "ops_record", "ops_script", "ops_policy",
		}},
	}

	summary := agg.Aggregate("a1", testBounds(), records)
	if len(summary.TopItems) != 5 {
		t.Fatalf("expected top items capped at 5, got %d", len(summary.TopItems))
	}
}
