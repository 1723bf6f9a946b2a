package tracking

import (
	"time"

	"github.com/google/uuid"

	"github.com/qualitystack/quality-core/internal/models"
)

// Machine applies weekly summaries to tracking episodes. It is pure: every
// method takes the record by value and returns the updated copy, so callers
// decide when to persist.
type Machine struct {
	escalateAfter int
	resolveAfter  int
}

// NewMachine builds a machine with the configured consecutive-week
// thresholds. Non-positive values fall back to 3 weeks.
func NewMachine(escalateAfter, resolveAfter int) Machine {
	if escalateAfter <= 0 {
		escalateAfter = 3
	}
	if resolveAfter <= 0 {
		resolveAfter = 3
	}
	return Machine{escalateAfter: escalateAfter, resolveAfter: resolveAfter}
}

// Register opens a new tracking episode for a freshly flagged agent,
// capturing the flagged week's rates as the baseline.
func Register(agentID, unit, reason string, summary models.WeeklyMetricSummary, now time.Time) models.AgentTrackingRecord {
	items := make([]string, 0, len(summary.TopItems))
	for _, item := range summary.TopItems {
		if item.Count > 0 {
			items = append(items, item.Code)
		}
	}

	return models.AgentTrackingRecord{
		ID:                  uuid.NewString(),
		AgentID:             agentID,
		Unit:                unit,
		Status:              models.StatusRegistered,
		Reason:              reason,
		ProblematicItems:    items,
		BaselineAttitude:    summary.AttitudeRate,
		BaselineOperational: summary.OperationalRate,
		CurrentAttitude:     summary.AttitudeRate,
		CurrentOperational:  summary.OperationalRate,
		BestAttitude:        summary.AttitudeRate,
		BestOperational:     summary.OperationalRate,
		RegisteredAt:        now.UTC(),
		UpdatedAt:           now.UTC(),
	}
}

// ApplyWeek advances an episode with one new week of data. It returns the
// updated record and whether anything changed. Terminal episodes and weeks
// with zero interactions are left untouched: absence of data is not
// evidence of improvement or regression.
func (m Machine) ApplyWeek(rec models.AgentTrackingRecord, summary models.WeeklyMetricSummary, th models.Thresholds, now time.Time) (models.AgentTrackingRecord, bool) {
	if rec.Status.Terminal() {
		return rec, false
	}
	if summary.InteractionCount == 0 {
		return rec, false
	}

	prevAttitude, prevOperational := rec.BaselineAttitude, rec.BaselineOperational
	if n := len(rec.CoachingLog); n > 0 {
		prevAttitude = rec.CoachingLog[n-1].AttitudeRate
		prevOperational = rec.CoachingLog[n-1].OperationalRate
	}

	improved := summary.AttitudeRate+summary.OperationalRate < prevAttitude+prevOperational

	rec.CoachingLog = append(rec.CoachingLog, models.CoachingEntry{
		PeriodKey:        summary.Period.Key(),
		AttitudeRate:     summary.AttitudeRate,
		OperationalRate:  summary.OperationalRate,
		InteractionCount: summary.InteractionCount,
		Improved:         improved,
		RecordedAt:       now.UTC(),
	})
	rec.WeeksTracked++

	rec.CurrentAttitude = summary.AttitudeRate
	rec.CurrentOperational = summary.OperationalRate
	if summary.AttitudeRate <= rec.BestAttitude {
		rec.BestAttitude = summary.AttitudeRate
	}
	if summary.OperationalRate <= rec.BestOperational {
		rec.BestOperational = summary.OperationalRate
	}

	if improved {
		rec.ConsecutiveImproved++
		rec.ConsecutiveWorsened = 0
	} else {
		rec.ConsecutiveWorsened++
		rec.ConsecutiveImproved = 0
	}

	rec.Status = m.nextStatus(rec, th)
	rec.UpdatedAt = now.UTC()
	return rec, true
}

// nextStatus decides the post-week status. Escalation wins over resolution
// when both somehow fire; sustained worsening is the more urgent signal.
func (m Machine) nextStatus(rec models.AgentTrackingRecord, th models.Thresholds) models.TrackingStatus {
	compliant := rec.CurrentAttitude <= th.AttitudeRate && rec.CurrentOperational <= th.OperationalRate

	switch {
	case rec.ConsecutiveWorsened >= m.escalateAfter:
		return models.StatusEscalated
	case rec.ConsecutiveImproved >= m.resolveAfter && compliant:
		return models.StatusResolved
	case rec.CurrentAttitude+rec.CurrentOperational < rec.BaselineAttitude+rec.BaselineOperational:
		return models.StatusImproved
	default:
		return models.StatusTracking
	}
}

// Resolve forces a terminal resolved status with a human note. This is the
// documented escape hatch, not a replacement for the automatic criteria.
func Resolve(rec models.AgentTrackingRecord, note string, now time.Time) (models.AgentTrackingRecord, bool) {
	if rec.Status.Terminal() {
		return rec, false
	}
	rec.Status = models.StatusResolved
	rec.ResolutionNote = note
	rec.UpdatedAt = now.UTC()
	return rec, true
}

// Escalate forces a terminal escalated status with a human note.
func Escalate(rec models.AgentTrackingRecord, note string, now time.Time) (models.AgentTrackingRecord, bool) {
	if rec.Status.Terminal() {
		return rec, false
	}
	rec.Status = models.StatusEscalated
	rec.ResolutionNote = note
	rec.UpdatedAt = now.UTC()
	return rec, true
}
