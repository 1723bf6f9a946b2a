package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/qualitystack/quality-core/internal/models"
	"github.com/qualitystack/quality-core/internal/utils"
)

// ErrReportNotFound signals a cache-store miss for an (agent, period) key.
var ErrReportNotFound = errors.New("cached report not found")

// ReportCacheStore persists generated weekly reports keyed by agent and
// period start. For a given period at most one generation is current:
// ReplaceAll deletes every row for the period and inserts the new set in a
// single transaction, holding a per-period advisory lock so two
// regenerations of the same period cannot interleave.
type ReportCacheStore struct {
	db *sqlx.DB
}

// NewReportCacheStore constructs the store over the warehouse connection.
func NewReportCacheStore(db *sqlx.DB) *ReportCacheStore {
	return &ReportCacheStore{db: db}
}

// Get fetches the cached report for one agent and period key, returning
// ErrReportNotFound on a miss.
func (s *ReportCacheStore) Get(ctx context.Context, agentID, periodKey string) (models.CachedWeeklyReport, error) {
	query := `
		SELECT report_data, generated_at
		FROM weekly_report_cache
		WHERE agent_id = $1 AND period_key = $2
	`

	var (
		data        []byte
		generatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, query, agentID, periodKey).Scan(&data, &generatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.CachedWeeklyReport{}, ErrReportNotFound
		}
		return models.CachedWeeklyReport{}, utils.NewAppError("reportcache.get", utils.KindTransient, "lookup failed", err)
	}

	report, err := decodeReport(data)
	if err != nil {
		return models.CachedWeeklyReport{}, err
	}
	report.AgentID = agentID
	report.PeriodKey = periodKey
	report.GeneratedAt = generatedAt
	return report, nil
}

// ListForPeriod returns every cached report for one period, ordered by
// agent. Used by the tracking sweep after a batch run.
func (s *ReportCacheStore) ListForPeriod(ctx context.Context, periodKey string) ([]models.CachedWeeklyReport, error) {
	query := `
		SELECT agent_id, report_data, generated_at
		FROM weekly_report_cache
		WHERE period_key = $1
		ORDER BY agent_id
	`

	rows, err := s.db.QueryContext(ctx, query, periodKey)
	if err != nil {
		return nil, utils.NewAppError("reportcache.listForPeriod", utils.KindTransient, "list query failed", err)
	}
	defer rows.Close()

	var reports []models.CachedWeeklyReport
	for rows.Next() {
		var (
			agentID     string
			data        []byte
			generatedAt time.Time
		)
		if err := rows.Scan(&agentID, &data, &generatedAt); err != nil {
			return nil, utils.NewAppError("reportcache.listForPeriod", utils.KindTransient, "scan row", err)
		}
		report, err := decodeReport(data)
		if err != nil {
			return nil, err
		}
		report.AgentID = agentID
		report.PeriodKey = periodKey
		report.GeneratedAt = generatedAt
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewAppError("reportcache.listForPeriod", utils.KindTransient, "iterate rows", err)
	}
	return reports, nil
}

// ReplaceAll atomically swaps the full report set for one period. Running
// it twice with the same input leaves the store in the same state, which is
// what makes batch regeneration safely re-runnable.
func (s *ReportCacheStore) ReplaceAll(ctx context.Context, periodKey string, reports []models.CachedWeeklyReport) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, utils.NewAppError("reportcache.replaceAll", utils.KindTransient, "begin transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Serializes same-period regenerations; released at commit/rollback.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, periodKey); err != nil {
		return 0, utils.NewAppError("reportcache.replaceAll", utils.KindTransient, "acquire period lock", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM weekly_report_cache WHERE period_key = $1`, periodKey); err != nil {
		return 0, utils.NewAppError("reportcache.replaceAll", utils.KindTransient, "delete prior generation", err)
	}

	insert := `
		INSERT INTO weekly_report_cache (agent_id, period_key, report_data, generated_at)
		VALUES ($1, $2, $3, $4)
	`
	written := 0
	for _, report := range reports {
		data, err := json.Marshal(report)
		if err != nil {
			return 0, utils.NewAppError("reportcache.replaceAll", utils.KindBadData,
				fmt.Sprintf("encode report for agent %s", report.AgentID), err)
		}
		if _, err := tx.ExecContext(ctx, insert, report.AgentID, periodKey, data, report.GeneratedAt); err != nil {
			return 0, utils.NewAppError("reportcache.replaceAll", utils.KindTransient,
				fmt.Sprintf("insert report for agent %s", report.AgentID), err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, utils.NewAppError("reportcache.replaceAll", utils.KindTransient, "commit", err)
	}
	return written, nil
}

// decodeReport deserializes a stored report and validates its schema
// version at the boundary, so a stale or foreign blob surfaces as bad data
// here instead of deep in business logic.
func decodeReport(data []byte) (models.CachedWeeklyReport, error) {
	var report models.CachedWeeklyReport
	if err := json.Unmarshal(data, &report); err != nil {
		return models.CachedWeeklyReport{}, utils.NewAppError("reportcache.decode", utils.KindBadData, "malformed report blob", err)
	}
	if report.Summary.SchemaVersion != models.SummarySchemaVersion {
		return models.CachedWeeklyReport{}, utils.NewAppError("reportcache.decode", utils.KindBadData,
			fmt.Sprintf("unsupported summary schema version %d", report.Summary.SchemaVersion), nil)
	}
	return report, nil
}
