package aggregate

import (
	"sort"

	"github.com/qualitystack/quality-core/internal/models"
)

// topItemsLimit caps the top-N item list carried in each summary.
const topItemsLimit = 5

// Aggregator turns a bag of evaluation records into a weekly summary.
// It is pure: no I/O, no failure mode, no dependence on the wall clock.
type Aggregator struct {
	catalog models.ItemCatalog
}

// NewAggregator builds an aggregator over the configured item catalog.
func NewAggregator(catalog models.ItemCatalog) *Aggregator {
	return &Aggregator{catalog: catalog}
}

// Rate computes an error rate as a percentage: errors over the number of
// scoreable item slots (interactions x category size). Zero interactions or
// an empty category yield 0, never NaN.
func Rate(errors, interactions, categorySize int) float64 {
	slots := interactions * categorySize
	if slots <= 0 {
		return 0
	}
	return float64(errors) / float64(slots) * 100
}

// Aggregate computes the summary for one agent over one period. Records for
// other agents or with malformed identifiers are the caller's concern;
// everything passed in is counted.
func (a *Aggregator) Aggregate(agentID string, bounds models.PeriodBounds, records []models.EvaluationRecord) models.WeeklyMetricSummary {
	summary := models.WeeklyMetricSummary{
		SchemaVersion:    models.SummarySchemaVersion,
		AgentID:          agentID,
		Period:           bounds,
		InteractionCount: len(records),
		ItemCounts:       make(map[string]int),
	}

	for _, rec := range records {
		detail := models.InteractionDetail{
			InteractionID: rec.InteractionID,
			EvaluatedAt:   rec.EvaluatedAt,
			ServiceTag:    rec.ServiceTag,
			Comment:       rec.Comment,
		}
		for _, code := range rec.FlaggedItems {
			category, known := a.catalog.CategoryOf(code)
			if !known {
				continue
			}
			summary.ItemCounts[code]++
			detail.ItemLabels = append(detail.ItemLabels, a.catalog.LabelOf(code))
			switch category {
			case models.CategoryAttitude:
				summary.AttitudeErrors++
			case models.CategoryOperational:
				summary.OperationalErrs++
			}
		}
		summary.Interactions = append(summary.Interactions, detail)
	}

	summary.AttitudeRate = Rate(summary.AttitudeErrors, summary.InteractionCount, a.catalog.AttitudeCount())
	summary.OperationalRate = Rate(summary.OperationalErrs, summary.InteractionCount, a.catalog.OperationalCount())
	summary.TopItems = a.topItems(summary.ItemCounts)

	return summary
}

// topItems ranks item codes by count descending, breaking ties by catalog
// order so output is deterministic across runs.
func (a *Aggregator) topItems(counts map[string]int) []models.ItemCount {
	if len(counts) == 0 {
		return nil
	}

	items := make([]models.ItemCount, 0, len(counts))
	for code, count := range counts {
		items = append(items, models.ItemCount{
			Code:  code,
			Label: a.catalog.LabelOf(code),
			Count: count,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Count != items[j].Count {
			return items[i].Count > items[j].Count
		}
		return a.catalog.Order(items[i].Code) < a.catalog.Order(items[j].Code)
	})

	if len(items) > topItemsLimit {
		items = items[:topItemsLimit]
	}
	return items
}
