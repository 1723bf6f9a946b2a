package models

import "time"

// TrackingStatus enumerates the lifecycle of a tracking episode.
type TrackingStatus string

const (
	// StatusRegistered marks a newly flagged agent with baseline captured.
	StatusRegistered TrackingStatus = "registered"
	// StatusTracking marks an episode with at least one follow-up week.
	StatusTracking TrackingStatus = "tracking"
	// StatusImproved marks rates better than baseline but not yet sustained.
	StatusImproved TrackingStatus = "improved"
	// StatusResolved is terminal: sustained improvement met the release bar.
	StatusResolved TrackingStatus = "resolved"
	// StatusEscalated is terminal: sustained worsening met the escalation bar.
	StatusEscalated TrackingStatus = "escalated"
)

// Terminal reports whether the status accepts no further weekly input.
func (s TrackingStatus) Terminal() bool {
	return s == StatusResolved || s == StatusEscalated
}

// Thresholds are the underperformance limits for one organizational unit.
// Rates strictly above a threshold are non-compliant; equality is compliant.
type Thresholds struct {
	AttitudeRate    float64 `yaml:"attitudeRate"`
	OperationalRate float64 `yaml:"operationalRate"`
}

// UnderperformanceFlag is the classifier verdict for one agent-week.
type UnderperformanceFlag struct {
	AgentID         string
	PeriodKey       string
	Flagged         bool
	AttitudeOver    bool
	OperationalOver bool
}

// CoachingEntry records one tracked week of an episode.
type CoachingEntry struct {
	PeriodKey        string    `json:"period_key"`
	AttitudeRate     float64   `json:"attitude_rate"`
	OperationalRate  float64   `json:"operational_rate"`
	InteractionCount int       `json:"interaction_count"`
	Improved         bool      `json:"improved"`
	Note             string    `json:"note,omitempty"`
	Plan             string    `json:"plan,omitempty"`
	RecordedAt       time.Time `json:"recorded_at"`
}

// AgentTrackingRecord is one tracking episode for one agent. Records are
// never deleted; closed episodes keep their terminal status and a new
// episode starts if the agent is flagged again later.
type AgentTrackingRecord struct {
	ID                  string
	AgentID             string
	Unit                string
	Status              TrackingStatus
	Reason              string
	ProblematicItems    []string
	BaselineAttitude    float64
	BaselineOperational float64
	CurrentAttitude     float64
	CurrentOperational  float64
	BestAttitude        float64
	BestOperational     float64
	ConsecutiveImproved int
	ConsecutiveWorsened int
	WeeksTracked        int
	CoachingLog         []CoachingEntry
	ResolutionNote      string
	RegisteredAt        time.Time
	UpdatedAt           time.Time
}

// ListUnderperformingRequest filters tracking records for the list endpoint.
type ListUnderperformingRequest struct {
	PeriodKey string
	Unit      string
	Status    TrackingStatus
	Limit     int
}
