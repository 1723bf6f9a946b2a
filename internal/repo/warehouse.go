package repo

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/qualitystack/quality-core/internal/models"
	"github.com/qualitystack/quality-core/internal/utils"
)

// Warehouse issues the two bulk query shapes this service needs against the
// analytical store: aggregate counts per agent across the comparison
// windows, and detail rows with their flagged item codes. It does not care
// how the rows got there; ingestion is an external collaborator.
type Warehouse struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewWarehouse constructs a warehouse client.
func NewWarehouse(db *sqlx.DB, logger *slog.Logger) *Warehouse {
	if logger == nil {
		logger = slog.Default()
	}
	return &Warehouse{db: db, logger: logger}
}

const rateComparisonQuery = `
	SELECT agent_id,
	       COUNT(*)                             FILTER (WHERE evaluated_at >= $1 AND evaluated_at < $2) AS cur_count,
	       COALESCE(SUM(attitude_errors)    FILTER (WHERE evaluated_at >= $1 AND evaluated_at < $2), 0) AS cur_attitude,
	       COALESCE(SUM(operational_errors) FILTER (WHERE evaluated_at >= $1 AND evaluated_at < $2), 0) AS cur_operational,
	       COUNT(*)                             FILTER (WHERE evaluated_at >= $3 AND evaluated_at < $4) AS prev_count,
	       COALESCE(SUM(attitude_errors)    FILTER (WHERE evaluated_at >= $3 AND evaluated_at < $4), 0) AS prev_attitude,
	       COALESCE(SUM(operational_errors) FILTER (WHERE evaluated_at >= $3 AND evaluated_at < $4), 0) AS prev_operational,
	       COUNT(*)                             FILTER (WHERE evaluated_at >= $5 AND evaluated_at < $6) AS mtd_count,
	       COALESCE(SUM(attitude_errors)    FILTER (WHERE evaluated_at >= $5 AND evaluated_at < $6), 0) AS mtd_attitude,
	       COALESCE(SUM(operational_errors) FILTER (WHERE evaluated_at >= $5 AND evaluated_at < $6), 0) AS mtd_operational
	FROM evaluations
	WHERE evaluated_at >= LEAST($1, $3, $5) AND evaluated_at < GREATEST($2, $4, $6)
	  AND ($7 = '' OR agent_id = $7)
	GROUP BY agent_id
	ORDER BY agent_id
`

// FetchRateComparisons returns per-agent aggregate counts for the current
// week, previous week, and month-to-date windows in one bulk read. Agents
// with no evaluations in any window are absent.
func (w *Warehouse) FetchRateComparisons(ctx context.Context, current, previous, monthToDate models.PeriodBounds) ([]models.AgentRateWindows, error) {
	return w.fetchComparisons(ctx, "", current, previous, monthToDate)
}

// FetchAgentRateComparison returns the comparison windows for one agent. A
// zero-valued row comes back when the agent has no evaluations at all.
func (w *Warehouse) FetchAgentRateComparison(ctx context.Context, agentID string, current, previous, monthToDate models.PeriodBounds) (models.AgentRateWindows, error) {
	rows, err := w.fetchComparisons(ctx, agentID, current, previous, monthToDate)
	if err != nil {
		return models.AgentRateWindows{}, err
	}
	if len(rows) == 0 {
		return models.AgentRateWindows{AgentID: agentID}, nil
	}
	return rows[0], nil
}

func (w *Warehouse) fetchComparisons(ctx context.Context, agentID string, current, previous, monthToDate models.PeriodBounds) ([]models.AgentRateWindows, error) {
	rows, err := w.db.QueryContext(ctx, rateComparisonQuery,
		current.Start, exclusiveEnd(current),
		previous.Start, exclusiveEnd(previous),
		monthToDate.Start, exclusiveEnd(monthToDate),
		agentID,
	)
	if err != nil {
		return nil, utils.NewAppError("warehouse.fetchComparisons", utils.KindTransient, "summary query failed", err)
	}
	defer rows.Close()

	var stats []models.AgentRateWindows
	for rows.Next() {
		var (
			agent models.AgentRateWindows
			cur   = &agent.Current
			prev  = &agent.Previous
			mtd   = &agent.MonthToDate
		)
		if err := rows.Scan(
			&agent.AgentID,
			&cur.InteractionCount, &cur.AttitudeErrors, &cur.OperationalErrs,
			&prev.InteractionCount, &prev.AttitudeErrors, &prev.OperationalErrs,
			&mtd.InteractionCount, &mtd.AttitudeErrors, &mtd.OperationalErrs,
		); err != nil {
			return nil, utils.NewAppError("warehouse.fetchComparisons", utils.KindTransient, "scan summary row", err)
		}
		stats = append(stats, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewAppError("warehouse.fetchComparisons", utils.KindTransient, "iterate summary rows", err)
	}
	return stats, nil
}

// FetchEvaluationDetails returns evaluation rows for every agent in the
// window. Rows missing an agent or interaction identifier are logged and
// excluded rather than failing the whole read.
func (w *Warehouse) FetchEvaluationDetails(ctx context.Context, bounds models.PeriodBounds) ([]models.EvaluationRecord, error) {
	return w.fetchDetails(ctx, "", bounds)
}

// FetchAgentEvaluationDetails returns evaluation rows for one agent.
func (w *Warehouse) FetchAgentEvaluationDetails(ctx context.Context, agentID string, bounds models.PeriodBounds) ([]models.EvaluationRecord, error) {
	return w.fetchDetails(ctx, agentID, bounds)
}

func (w *Warehouse) fetchDetails(ctx context.Context, agentID string, bounds models.PeriodBounds) ([]models.EvaluationRecord, error) {
	query := `
		SELECT agent_id, evaluated_at, interaction_id,
		       COALESCE(service_tag, '') AS service_tag,
		       COALESCE(comment, '')     AS comment,
		       COALESCE(flagged_items, '{}') AS flagged_items
		FROM evaluations
		WHERE evaluated_at >= $1 AND evaluated_at < $2
		  AND ($3 = '' OR agent_id = $3)
		ORDER BY agent_id, evaluated_at
	`

	rows, err := w.db.QueryContext(ctx, query, bounds.Start, exclusiveEnd(bounds), agentID)
	if err != nil {
		return nil, utils.NewAppError("warehouse.fetchDetails", utils.KindTransient, "detail query failed", err)
	}
	defer rows.Close()

	var records []models.EvaluationRecord
	for rows.Next() {
		var rec models.EvaluationRecord
		if err := rows.Scan(
			&rec.AgentID,
			&rec.EvaluatedAt,
			&rec.InteractionID,
			&rec.ServiceTag,
			&rec.Comment,
			pq.Array(&rec.FlaggedItems),
		); err != nil {
			return nil, utils.NewAppError("warehouse.fetchDetails", utils.KindTransient, "scan detail row", err)
		}
		if rec.AgentID == "" || rec.InteractionID == "" {
			w.logger.Warn("skipping malformed evaluation row",
				slog.String("agent_id", rec.AgentID),
				slog.String("interaction_id", rec.InteractionID))
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewAppError("warehouse.fetchDetails", utils.KindTransient, "iterate detail rows", err)
	}
	return records, nil
}

// exclusiveEnd converts the inclusive period end date into the half-open
// upper bound used by the SQL range predicates.
func exclusiveEnd(bounds models.PeriodBounds) time.Time {
	return bounds.End.AddDate(0, 0, 1)
}
