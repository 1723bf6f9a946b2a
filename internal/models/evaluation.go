package models

import "time"

// EvaluationRecord is one evaluated interaction as stored in the warehouse.
// Records are immutable once ingested; the ingestion pipeline is an external
// collaborator and this service only consumes their shape.
type EvaluationRecord struct {
	AgentID       string
	EvaluatedAt   time.Time
	InteractionID string
	ServiceTag    string
	Comment       string
	FlaggedItems  []string
}

// ItemCategory distinguishes the two disjoint checklist item sets.
type ItemCategory string

const (
	CategoryAttitude    ItemCategory = "attitude"
	CategoryOperational ItemCategory = "operational"
)

// ChecklistItem is one named quality-checklist item.
type ChecklistItem struct {
	Code  string `yaml:"code"`
	Label string `yaml:"label"`
}

// ItemCatalog is the fixed, ordered set of checklist items. The order of
// each list is the canonical tie-break order for top-N extraction, and the
// list lengths are the rate denominators (A and B).
type ItemCatalog struct {
	Attitude    []ChecklistItem `yaml:"attitude"`
	Operational []ChecklistItem `yaml:"operational"`
}

// AttitudeCount returns the number of attitude items (A).
func (c ItemCatalog) AttitudeCount() int { return len(c.Attitude) }

// OperationalCount returns the number of operational items (B).
func (c ItemCatalog) OperationalCount() int { return len(c.Operational) }

// CategoryOf reports which category a code belongs to, or false for codes
// outside the catalog.
func (c ItemCatalog) CategoryOf(code string) (ItemCategory, bool) {
	for _, item := range c.Attitude {
		if item.Code == code {
			return CategoryAttitude, true
		}
	}
	for _, item := range c.Operational {
		if item.Code == code {
			return CategoryOperational, true
		}
	}
	return "", false
}

// Order returns the canonical position of a code across both lists,
// attitude items first. Unknown codes sort last.
func (c ItemCatalog) Order(code string) int {
	for i, item := range c.Attitude {
		if item.Code == code {
			return i
		}
	}
	for i, item := range c.Operational {
		if item.Code == code {
			return len(c.Attitude) + i
		}
	}
	return len(c.Attitude) + len(c.Operational)
}

// LabelOf returns the display label for a code, falling back to the code
// itself when the catalog has no entry.
func (c ItemCatalog) LabelOf(code string) string {
	for _, item := range c.Attitude {
		if item.Code == code {
			return item.Label
		}
	}
	for _, item := range c.Operational {
		if item.Code == code {
			return item.Label
		}
	}
	return code
}
