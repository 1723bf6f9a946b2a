package api

import (
	"math"
	"time"

	"github.com/qualitystack/quality-core/internal/models"
)

// Rates are stored at full precision and rounded to one decimal place only
// here, at the response boundary.

type reportResponse struct {
	AgentID          string                `json:"agent_id"`
	PeriodKey        string                `json:"period_key"`
	PeriodStart      string                `json:"period_start"`
	PeriodEnd        string                `json:"period_end"`
	InteractionCount int                   `json:"interaction_count"`
	AttitudeErrors   int                   `json:"attitude_errors"`
	OperationalErrs  int                   `json:"operational_errors"`
	AttitudeRate     float64               `json:"attitude_rate"`
	OperationalRate  float64               `json:"operational_rate"`
	Comparison       comparisonResponse    `json:"comparison"`
	TopItems         []models.ItemCount    `json:"top_items"`
	Interactions     []interactionResponse `json:"interactions"`
	GeneratedAt      time.Time             `json:"generated_at"`
}

type comparisonResponse struct {
	PrevAttitudeRate     float64 `json:"prev_attitude_rate"`
	PrevOperationalRate  float64 `json:"prev_operational_rate"`
	MonthAttitudeRate    float64 `json:"month_attitude_rate"`
	MonthOperationalRate float64 `json:"month_operational_rate"`
}

type interactionResponse struct {
	InteractionID string   `json:"interaction_id"`
	EvaluatedAt   string   `json:"evaluated_at"`
	ServiceTag    string   `json:"service_tag,omitempty"`
	ItemLabels    []string `json:"item_labels"`
	Comment       string   `json:"comment,omitempty"`
}

type trackingResponse struct {
	ID                  string                `json:"id"`
	AgentID             string                `json:"agent_id"`
	Unit                string                `json:"unit,omitempty"`
	Status              models.TrackingStatus `json:"status"`
	Reason              string                `json:"reason"`
	ProblematicItems    []string              `json:"problematic_items"`
	BaselineAttitude    float64               `json:"baseline_attitude_rate"`
	BaselineOperational float64               `json:"baseline_operational_rate"`
	CurrentAttitude     float64               `json:"current_attitude_rate"`
	CurrentOperational  float64               `json:"current_operational_rate"`
	BestAttitude        float64               `json:"best_attitude_rate"`
	BestOperational     float64               `json:"best_operational_rate"`
	ConsecutiveImproved int                   `json:"consecutive_improved"`
	ConsecutiveWorsened int                   `json:"consecutive_worsened"`
	WeeksTracked        int                   `json:"weeks_tracked"`
	CoachingLog         []coachingResponse    `json:"coaching_log"`
	ResolutionNote      string                `json:"resolution_note,omitempty"`
	RegisteredAt        time.Time             `json:"registered_at"`
	UpdatedAt           time.Time             `json:"updated_at"`
}

type coachingResponse struct {
	PeriodKey        string    `json:"period_key"`
	AttitudeRate     float64   `json:"attitude_rate"`
	OperationalRate  float64   `json:"operational_rate"`
	InteractionCount int       `json:"interaction_count"`
	Improved         bool      `json:"improved"`
	Note             string    `json:"note,omitempty"`
	Plan             string    `json:"plan,omitempty"`
	RecordedAt       time.Time `json:"recorded_at"`
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func toReportResponse(report models.CachedWeeklyReport) reportResponse {
	summary := report.Summary

	interactions := make([]interactionResponse, 0, len(summary.Interactions))
	for _, d := range summary.Interactions {
		interactions = append(interactions, interactionResponse{
			InteractionID: d.InteractionID,
			EvaluatedAt:   d.EvaluatedAt.UTC().Format(time.RFC3339),
			ServiceTag:    d.ServiceTag,
			ItemLabels:    d.ItemLabels,
			Comment:       d.Comment,
		})
	}

	return reportResponse{
		AgentID:          report.AgentID,
		PeriodKey:        report.PeriodKey,
		PeriodStart:      summary.Period.Start.UTC().Format("2006-01-02"),
		PeriodEnd:        summary.Period.End.UTC().Format("2006-01-02"),
		InteractionCount: summary.InteractionCount,
		AttitudeErrors:   summary.AttitudeErrors,
		OperationalErrs:  summary.OperationalErrs,
		AttitudeRate:     round1(summary.AttitudeRate),
		OperationalRate:  round1(summary.OperationalRate),
		Comparison: comparisonResponse{
			PrevAttitudeRate:     round1(report.Comparison.PrevAttitudeRate),
			PrevOperationalRate:  round1(report.Comparison.PrevOperationalRate),
			MonthAttitudeRate:    round1(report.Comparison.MonthAttitudeRate),
			MonthOperationalRate: round1(report.Comparison.MonthOperationalRate),
		},
		TopItems:     summary.TopItems,
		Interactions: interactions,
		GeneratedAt:  report.GeneratedAt,
	}
}

func toTrackingResponse(rec models.AgentTrackingRecord) trackingResponse {
	log := make([]coachingResponse, 0, len(rec.CoachingLog))
	for _, entry := range rec.CoachingLog {
		log = append(log, coachingResponse{
			PeriodKey:        entry.PeriodKey,
			AttitudeRate:     round1(entry.AttitudeRate),
			OperationalRate:  round1(entry.OperationalRate),
			InteractionCount: entry.InteractionCount,
			Improved:         entry.Improved,
			Note:             entry.Note,
			Plan:             entry.Plan,
			RecordedAt:       entry.RecordedAt,
		})
	}

	return trackingResponse{
		ID:                  rec.ID,
		AgentID:             rec.AgentID,
		Unit:                rec.Unit,
		Status:              rec.Status,
		Reason:              rec.Reason,
		ProblematicItems:    rec.ProblematicItems,
		BaselineAttitude:    round1(rec.BaselineAttitude),
		BaselineOperational: round1(rec.BaselineOperational),
		CurrentAttitude:     round1(rec.CurrentAttitude),
		CurrentOperational:  round1(rec.CurrentOperational),
		BestAttitude:        round1(rec.BestAttitude),
		BestOperational:     round1(rec.BestOperational),
		ConsecutiveImproved: rec.ConsecutiveImproved,
		ConsecutiveWorsened: rec.ConsecutiveWorsened,
		WeeksTracked:        rec.WeeksTracked,
		CoachingLog:         log,
		ResolutionNote:      rec.ResolutionNote,
		RegisteredAt:        rec.RegisteredAt,
		UpdatedAt:           rec.UpdatedAt,
	}
}
