package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/qualitystack/quality-core/internal/models"
	"github.com/qualitystack/quality-core/internal/utils"
)

// ErrTrackingNotFound signals that an agent has no tracking record.
var ErrTrackingNotFound = errors.New("tracking record not found")

// TrackingRepo persists agent tracking episodes. Records are only ever
// inserted or updated in place; closed episodes are kept forever.
type TrackingRepo struct {
	db *sqlx.DB
}

// NewTrackingRepo constructs the tracking repository.
func NewTrackingRepo(db *sqlx.DB) *TrackingRepo {
	return &TrackingRepo{db: db}
}

const trackingColumns = `
	id, agent_id, unit, status, reason, problematic_items,
	baseline_attitude, baseline_operational,
	current_attitude, current_operational,
	best_attitude, best_operational,
	consecutive_improved, consecutive_worsened, weeks_tracked,
	coaching_log, COALESCE(resolution_note, '') AS resolution_note,
	registered_at, updated_at
`

// GetLatestByAgent returns the agent's most recent episode regardless of
// status, or ErrTrackingNotFound.
func (r *TrackingRepo) GetLatestByAgent(ctx context.Context, agentID string) (models.AgentTrackingRecord, error) {
	query := `
		SELECT ` + trackingColumns + `
		FROM agent_tracking
		WHERE agent_id = $1
		ORDER BY registered_at DESC
		LIMIT 1
	`
	return r.queryOne(ctx, query, agentID)
}

// GetOpenByAgent returns the agent's current non-terminal episode, or
// ErrTrackingNotFound when every episode is closed.
func (r *TrackingRepo) GetOpenByAgent(ctx context.Context, agentID string) (models.AgentTrackingRecord, error) {
	query := `
		SELECT ` + trackingColumns + `
		FROM agent_tracking
		WHERE agent_id = $1 AND status NOT IN ('resolved', 'escalated')
		ORDER BY registered_at DESC
		LIMIT 1
	`
	return r.queryOne(ctx, query, agentID)
}

// List returns tracking records matching the request filters, most recent
// first.
func (r *TrackingRepo) List(ctx context.Context, req models.ListUnderperformingRequest) ([]models.AgentTrackingRecord, error) {
	limit := req.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT ` + trackingColumns + `
		FROM agent_tracking
		WHERE ($1 = '' OR unit = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY updated_at DESC
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, req.Unit, string(req.Status), limit)
	if err != nil {
		return nil, utils.NewAppError("tracking.list", utils.KindTransient, "list query failed", err)
	}
	defer rows.Close()

	var records []models.AgentTrackingRecord
	for rows.Next() {
		rec, err := scanTracking(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewAppError("tracking.list", utils.KindTransient, "iterate records", err)
	}
	return records, nil
}

// Save upserts one tracking record by episode ID.
func (r *TrackingRepo) Save(ctx context.Context, rec models.AgentTrackingRecord) error {
	coachingLog, err := json.Marshal(rec.CoachingLog)
	if err != nil {
		return utils.NewAppError("tracking.save", utils.KindBadData, "encode coaching log", err)
	}

	query := `
		INSERT INTO agent_tracking (
			id, agent_id, unit, status, reason, problematic_items,
			baseline_attitude, baseline_operational,
			current_attitude, current_operational,
			best_attitude, best_operational,
			consecutive_improved, consecutive_worsened, weeks_tracked,
			coaching_log, resolution_note, registered_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			current_attitude = EXCLUDED.current_attitude,
			current_operational = EXCLUDED.current_operational,
			best_attitude = EXCLUDED.best_attitude,
			best_operational = EXCLUDED.best_operational,
			consecutive_improved = EXCLUDED.consecutive_improved,
			consecutive_worsened = EXCLUDED.consecutive_worsened,
			weeks_tracked = EXCLUDED.weeks_tracked,
			coaching_log = EXCLUDED.coaching_log,
			resolution_note = EXCLUDED.resolution_note,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		rec.ID, rec.AgentID, rec.Unit, string(rec.Status), rec.Reason, pq.Array(rec.ProblematicItems),
		rec.BaselineAttitude, rec.BaselineOperational,
		rec.CurrentAttitude, rec.CurrentOperational,
		rec.BestAttitude, rec.BestOperational,
		rec.ConsecutiveImproved, rec.ConsecutiveWorsened, rec.WeeksTracked,
		coachingLog, rec.ResolutionNote, rec.RegisteredAt, rec.UpdatedAt,
	)
	if err != nil {
		return utils.NewAppError("tracking.save", utils.KindTransient, "upsert record", err)
	}
	return nil
}

func (r *TrackingRepo) queryOne(ctx context.Context, query string, args ...any) (models.AgentTrackingRecord, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	rec, err := scanTracking(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.AgentTrackingRecord{}, ErrTrackingNotFound
		}
		return models.AgentTrackingRecord{}, err
	}
	return rec, nil
}

func scanTracking(scan func(...any) error) (models.AgentTrackingRecord, error) {
	var (
		rec         models.AgentTrackingRecord
		status      string
		coachingLog []byte
	)
	err := scan(
		&rec.ID, &rec.AgentID, &rec.Unit, &status, &rec.Reason, pq.Array(&rec.ProblematicItems),
		&rec.BaselineAttitude, &rec.BaselineOperational,
		&rec.CurrentAttitude, &rec.CurrentOperational,
		&rec.BestAttitude, &rec.BestOperational,
		&rec.ConsecutiveImproved, &rec.ConsecutiveWorsened, &rec.WeeksTracked,
		&coachingLog, &rec.ResolutionNote,
		&rec.RegisteredAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.AgentTrackingRecord{}, err
		}
		return models.AgentTrackingRecord{}, utils.NewAppError("tracking.scan", utils.KindTransient, "scan record", err)
	}
	rec.Status = models.TrackingStatus(status)
	if len(coachingLog) > 0 {
		if err := json.Unmarshal(coachingLog, &rec.CoachingLog); err != nil {
			return models.AgentTrackingRecord{}, utils.NewAppError("tracking.scan", utils.KindBadData, "decode coaching log", err)
		}
	}
	return rec, nil
}
