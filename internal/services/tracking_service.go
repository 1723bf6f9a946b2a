package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/qualitystack/quality-core/internal/classify"
	"github.com/qualitystack/quality-core/internal/models"
	"github.com/qualitystack/quality-core/internal/repo"
	"github.com/qualitystack/quality-core/internal/tracking"
)

// ErrNoOpenEpisode signals a manual override against an agent with no
// active tracking episode.
var ErrNoOpenEpisode = errors.New("agent has no open tracking episode")

// TrackingStore defines the persistence the tracking service needs.
type TrackingStore interface {
	GetLatestByAgent(ctx context.Context, agentID string) (models.AgentTrackingRecord, error)
	GetOpenByAgent(ctx context.Context, agentID string) (models.AgentTrackingRecord, error)
	List(ctx context.Context, req models.ListUnderperformingRequest) ([]models.AgentTrackingRecord, error)
	Save(ctx context.Context, rec models.AgentTrackingRecord) error
}

// ReportLister loads a period's generated reports for the weekly sweep.
type ReportLister interface {
	ListForPeriod(ctx context.Context, periodKey string) ([]models.CachedWeeklyReport, error)
}

// SweepStats summarises one tracking sweep over a period.
type SweepStats struct {
	Registered int
	Updated    int
	Resolved   int
	Escalated  int
}

// TrackingService owns tracking episodes: the weekly sweep that registers
// and advances them, plus reads and manual overrides.
type TrackingService struct {
	logger     *slog.Logger
	store      TrackingStore
	reports    ReportLister
	machine    tracking.Machine
	classifier *classify.Classifier
	units      map[string]string
	now        func() time.Time
}

// NewTrackingService constructs the tracking service. units maps agent IDs
// to their organizational unit and may be nil; agents without an entry are
// classified with the default thresholds. now may be nil and defaults to
// the wall clock.
func NewTrackingService(
	logger *slog.Logger,
	store TrackingStore,
	reports ReportLister,
	machine tracking.Machine,
	classifier *classify.Classifier,
	units map[string]string,
	now func() time.Time,
) *TrackingService {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &TrackingService{
		logger:     logger,
		store:      store,
		reports:    reports,
		machine:    machine,
		classifier: classifier,
		units:      units,
		now:        now,
	}
}

// GetTrackingRecord returns the agent's most recent episode, or
// repo.ErrTrackingNotFound.
func (s *TrackingService) GetTrackingRecord(ctx context.Context, agentID string) (models.AgentTrackingRecord, error) {
	return s.store.GetLatestByAgent(ctx, agentID)
}

// ListUnderperforming returns tracking records matching the filters.
func (s *TrackingService) ListUnderperforming(ctx context.Context, req models.ListUnderperformingRequest) ([]models.AgentTrackingRecord, error) {
	return s.store.List(ctx, req)
}

// ProcessPeriod runs the weekly sweep over every report generated for a
// period: open episodes get the week applied, newly flagged agents without
// an open episode get registered with that week as their baseline.
func (s *TrackingService) ProcessPeriod(ctx context.Context, periodKey string) (SweepStats, error) {
	reports, err := s.reports.ListForPeriod(ctx, periodKey)
	if err != nil {
		return SweepStats{}, fmt.Errorf("load reports for period %s: %w", periodKey, err)
	}

	var stats SweepStats
	now := s.now()
	for _, report := range reports {
		summary := report.Summary

		open, err := s.store.GetOpenByAgent(ctx, report.AgentID)
		if err != nil {
			if !errors.Is(err, repo.ErrTrackingNotFound) {
				return stats, fmt.Errorf("load episode for agent %s: %w", report.AgentID, err)
			}

			unit := s.units[report.AgentID]
			flag := s.classifier.ClassifyForUnit(summary, unit)
			if !flag.Flagged {
				continue
			}
			rec := tracking.Register(report.AgentID, unit, registrationReason(flag), summary, now)
			if err := s.store.Save(ctx, rec); err != nil {
				return stats, fmt.Errorf("register agent %s: %w", report.AgentID, err)
			}
			stats.Registered++
			s.logger.Info("agent registered for tracking",
				slog.String("agent_id", report.AgentID),
				slog.String("period", periodKey))
			continue
		}

		th := s.classifier.ThresholdsFor(open.Unit)
		updated, changed := s.machine.ApplyWeek(open, summary, th, now)
		if !changed {
			continue
		}
		if err := s.store.Save(ctx, updated); err != nil {
			return stats, fmt.Errorf("update episode for agent %s: %w", report.AgentID, err)
		}
		stats.Updated++
		switch updated.Status {
		case models.StatusResolved:
			stats.Resolved++
			s.logger.Info("tracking episode resolved",
				slog.String("agent_id", report.AgentID),
				slog.Int("weeks_tracked", updated.WeeksTracked))
		case models.StatusEscalated:
			stats.Escalated++
			s.logger.Warn("tracking episode escalated",
				slog.String("agent_id", report.AgentID),
				slog.Int("consecutive_worsened", updated.ConsecutiveWorsened))
		}
	}

	s.logger.Info("tracking sweep complete",
		slog.String("period", periodKey),
		slog.Int("registered", stats.Registered),
		slog.Int("updated", stats.Updated),
		slog.Int("resolved", stats.Resolved),
		slog.Int("escalated", stats.Escalated))
	return stats, nil
}

// ResolveManually forces the agent's open episode to resolved with a note.
func (s *TrackingService) ResolveManually(ctx context.Context, agentID, note string) (models.AgentTrackingRecord, error) {
	return s.override(ctx, agentID, note, tracking.Resolve)
}

// EscalateManually forces the agent's open episode to escalated with a note.
func (s *TrackingService) EscalateManually(ctx context.Context, agentID, note string) (models.AgentTrackingRecord, error) {
	return s.override(ctx, agentID, note, tracking.Escalate)
}

func (s *TrackingService) override(
	ctx context.Context,
	agentID, note string,
	apply func(models.AgentTrackingRecord, string, time.Time) (models.AgentTrackingRecord, bool),
) (models.AgentTrackingRecord, error) {
	open, err := s.store.GetOpenByAgent(ctx, agentID)
	if err != nil {
		if errors.Is(err, repo.ErrTrackingNotFound) {
			return models.AgentTrackingRecord{}, ErrNoOpenEpisode
		}
		return models.AgentTrackingRecord{}, err
	}

	updated, changed := apply(open, note, s.now())
	if !changed {
		return open, nil
	}
	if err := s.store.Save(ctx, updated); err != nil {
		return models.AgentTrackingRecord{}, err
	}
	return updated, nil
}

func registrationReason(flag models.UnderperformanceFlag) string {
	switch {
	case flag.AttitudeOver && flag.OperationalOver:
		return "attitude and operational rates above threshold"
	case flag.AttitudeOver:
		return "attitude rate above threshold"
	default:
		return "operational rate above threshold"
	}
}
