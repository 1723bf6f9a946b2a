package models

import "time"

// SummarySchemaVersion tags serialized summaries so decode failures surface
// at the storage boundary instead of deep in business logic.
const SummarySchemaVersion = 1

// PeriodBounds is one tracking period: a fixed-length weekly window anchored
// to a configured weekday. Bounds are always derived, never stored.
type PeriodBounds struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Key returns the canonical period key, the start date in YYYY-MM-DD (UTC).
func (p PeriodBounds) Key() string {
	return p.Start.UTC().Format("2006-01-02")
}

// ItemCount pairs a checklist item with its occurrence count for a period.
type ItemCount struct {
	Code  string `json:"code"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

// InteractionDetail is one evaluated interaction carried inside a summary,
// with the labels of the items it triggered.
type InteractionDetail struct {
	InteractionID string    `json:"interaction_id"`
	EvaluatedAt   time.Time `json:"evaluated_at"`
	ServiceTag    string    `json:"service_tag,omitempty"`
	ItemLabels    []string  `json:"item_labels"`
	Comment       string    `json:"comment,omitempty"`
}

// WeeklyMetricSummary is the derived per-agent, per-period aggregate.
// Rates are kept at full precision; display rounding happens in the API
// layer only.
type WeeklyMetricSummary struct {
	SchemaVersion    int                 `json:"schema_version"`
	AgentID          string              `json:"agent_id"`
	Period           PeriodBounds        `json:"period"`
	InteractionCount int                 `json:"interaction_count"`
	AttitudeErrors   int                 `json:"attitude_errors"`
	OperationalErrs  int                 `json:"operational_errors"`
	AttitudeRate     float64             `json:"attitude_rate"`
	OperationalRate  float64             `json:"operational_rate"`
	ItemCounts       map[string]int      `json:"item_counts"`
	TopItems         []ItemCount         `json:"top_items"`
	Interactions     []InteractionDetail `json:"interactions"`
}

// RateComparison carries the context numbers stored alongside a summary.
type RateComparison struct {
	PrevAttitudeRate     float64 `json:"prev_attitude_rate"`
	PrevOperationalRate  float64 `json:"prev_operational_rate"`
	MonthAttitudeRate    float64 `json:"month_attitude_rate"`
	MonthOperationalRate float64 `json:"month_operational_rate"`
}

// CachedWeeklyReport is one row of the report cache: a summary plus
// comparison rates and the generation timestamp. For a given
// (agent, period key) at most one row is current; batch regeneration
// replaces all rows for the period as one unit.
type CachedWeeklyReport struct {
	AgentID     string              `json:"agent_id"`
	PeriodKey   string              `json:"period_key"`
	Summary     WeeklyMetricSummary `json:"summary"`
	Comparison  RateComparison      `json:"comparison"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// RateWindowStats holds aggregate error counts over one date window.
type RateWindowStats struct {
	InteractionCount int
	AttitudeErrors   int
	OperationalErrs  int
}

// AgentRateWindows is one row of the bulk summary-level warehouse query:
// aggregate counts for one agent over the current week, the previous week,
// and the month to date, fetched in a single read.
type AgentRateWindows struct {
	AgentID     string
	Current     RateWindowStats
	Previous    RateWindowStats
	MonthToDate RateWindowStats
}
