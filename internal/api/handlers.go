package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/qualitystack/quality-core/internal/generator"
	"github.com/qualitystack/quality-core/internal/models"
	"github.com/qualitystack/quality-core/internal/period"
	"github.com/qualitystack/quality-core/internal/repo"
	"github.com/qualitystack/quality-core/internal/services"
	"github.com/qualitystack/quality-core/internal/utils"
)

// ReportReader is the report surface the handlers need.
type ReportReader interface {
	GetWeeklyReport(ctx context.Context, agentID string, periodStart time.Time) (models.CachedWeeklyReport, error)
	GetConsecutiveFlagCount(ctx context.Context, agentID, unit string, ref time.Time, lookbackWeeks int) (int, error)
}

// TrackingManager is the tracking surface the handlers need.
type TrackingManager interface {
	GetTrackingRecord(ctx context.Context, agentID string) (models.AgentTrackingRecord, error)
	ListUnderperforming(ctx context.Context, req models.ListUnderperformingRequest) ([]models.AgentTrackingRecord, error)
	ProcessPeriod(ctx context.Context, periodKey string) (services.SweepStats, error)
	ResolveManually(ctx context.Context, agentID, note string) (models.AgentTrackingRecord, error)
	EscalateManually(ctx context.Context, agentID, note string) (models.AgentTrackingRecord, error)
}

// BatchRunner triggers report regeneration for a period.
type BatchRunner interface {
	GenerateForPeriod(ctx context.Context, periodStart time.Time) (int, error)
}

// Handler exposes the service layer over HTTP.
type Handler struct {
	logger   *slog.Logger
	reports  ReportReader
	tracking TrackingManager
	batch    BatchRunner
	calendar period.Calendar
}

// NewHandler wires the HTTP handlers to the service layer.
func NewHandler(logger *slog.Logger, reports ReportReader, tracking TrackingManager, batch BatchRunner, calendar period.Calendar) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		reports:  reports,
		tracking: tracking,
		batch:    batch,
		calendar: calendar,
	}
}

// Health reports process liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetWeeklyReport serves one agent's report for the period whose key is in
// the path. The key must be the period start date on the anchor weekday.
func (h *Handler) GetWeeklyReport(c *gin.Context) {
	agentID := c.Param("agent")
	bounds, ok := h.calendar.ParsePeriodKey(c.Param("period"))
	if !ok {
		c.JSON(http.StatusBadRequest, errorResponse("period must be a YYYY-MM-DD period start date"))
		return
	}

	report, err := h.reports.GetWeeklyReport(c.Request.Context(), agentID, bounds.Start)
	if err != nil {
		h.renderError(c, "get weekly report", err)
		return
	}
	c.JSON(http.StatusOK, toReportResponse(report))
}

// GetConsecutiveFlagCount serves how many consecutive weeks the agent has
// been flagged, ending with the given period (default: the current one).
func (h *Handler) GetConsecutiveFlagCount(c *gin.Context) {
	agentID := c.Param("agent")
	unit := c.Query("unit")

	ref := time.Now().UTC()
	if key := c.Query("period"); key != "" {
		bounds, ok := h.calendar.ParsePeriodKey(key)
		if !ok {
			c.JSON(http.StatusBadRequest, errorResponse("period must be a YYYY-MM-DD period start date"))
			return
		}
		ref = bounds.Start
	}

	lookback := 0
	if v := c.Query("lookback"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, errorResponse("lookback must be a positive integer"))
			return
		}
		lookback = n
	}

	count, err := h.reports.GetConsecutiveFlagCount(c.Request.Context(), agentID, unit, ref, lookback)
	if err != nil {
		h.renderError(c, "get flag count", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"agent_id":          agentID,
		"consecutive_weeks": count,
	})
}

// GetTrackingRecord serves the agent's most recent tracking episode.
func (h *Handler) GetTrackingRecord(c *gin.Context) {
	agentID := c.Param("agent")

	rec, err := h.tracking.GetTrackingRecord(c.Request.Context(), agentID)
	if err != nil {
		if errors.Is(err, repo.ErrTrackingNotFound) {
			c.JSON(http.StatusNotFound, errorResponse("agent has no tracking record"))
			return
		}
		h.renderError(c, "get tracking record", err)
		return
	}
	c.JSON(http.StatusOK, toTrackingResponse(rec))
}

// ListUnderperforming serves tracking records filtered by unit and status.
func (h *Handler) ListUnderperforming(c *gin.Context) {
	req := models.ListUnderperformingRequest{
		PeriodKey: c.Query("period"),
		Unit:      c.Query("unit"),
		Status:    models.TrackingStatus(c.Query("status")),
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, errorResponse("limit must be a positive integer"))
			return
		}
		req.Limit = n
	}

	records, err := h.tracking.ListUnderperforming(c.Request.Context(), req)
	if err != nil {
		h.renderError(c, "list underperforming", err)
		return
	}

	out := make([]trackingResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toTrackingResponse(rec))
	}
	c.JSON(http.StatusOK, gin.H{"records": out, "count": len(out)})
}

type overrideRequest struct {
	Note string `json:"note" binding:"required"`
}

// ResolveTracking closes the agent's open episode as resolved.
func (h *Handler) ResolveTracking(c *gin.Context) {
	h.applyOverride(c, h.tracking.ResolveManually)
}

// EscalateTracking closes the agent's open episode as escalated.
func (h *Handler) EscalateTracking(c *gin.Context) {
	h.applyOverride(c, h.tracking.EscalateManually)
}

func (h *Handler) applyOverride(c *gin.Context, apply func(context.Context, string, string) (models.AgentTrackingRecord, error)) {
	agentID := c.Param("agent")

	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("request body must include a note"))
		return
	}

	rec, err := apply(c.Request.Context(), agentID, req.Note)
	if err != nil {
		if errors.Is(err, services.ErrNoOpenEpisode) {
			c.JSON(http.StatusConflict, errorResponse("agent has no open tracking episode"))
			return
		}
		h.renderError(c, "tracking override", err)
		return
	}
	c.JSON(http.StatusOK, toTrackingResponse(rec))
}

// RunBatch triggers regeneration for the period in the path, followed by the
// tracking sweep over the regenerated reports.
func (h *Handler) RunBatch(c *gin.Context) {
	bounds, ok := h.calendar.ParsePeriodKey(c.Param("period"))
	if !ok {
		c.JSON(http.StatusBadRequest, errorResponse("period must be a YYYY-MM-DD period start date"))
		return
	}

	written, err := h.batch.GenerateForPeriod(c.Request.Context(), bounds.Start)
	if err != nil {
		if errors.Is(err, generator.ErrPeriodInProgress) {
			c.JSON(http.StatusConflict, errorResponse("batch generation already running for this period"))
			return
		}
		h.renderError(c, "batch generation", err)
		return
	}

	stats, err := h.tracking.ProcessPeriod(c.Request.Context(), bounds.Key())
	if err != nil {
		h.renderError(c, "tracking sweep", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"period":    bounds.Key(),
		"reports":   written,
		"tracking":  gin.H{"registered": stats.Registered, "updated": stats.Updated, "resolved": stats.Resolved, "escalated": stats.Escalated},
		"completed": time.Now().UTC().Format(time.RFC3339),
	})
}

// renderError maps the error taxonomy onto HTTP status codes: bad data from
// storage is a 502 because the client request was fine, config errors are
// 500, and transient errors are 503 so callers know to retry.
func (h *Handler) renderError(c *gin.Context, op string, err error) {
	h.logger.Error(op+" failed", slog.Any("error", err))

	status := http.StatusServiceUnavailable
	switch utils.KindOf(err) {
	case utils.KindBadData:
		status = http.StatusBadGateway
	case utils.KindConfig:
		status = http.StatusInternalServerError
	}
	c.JSON(status, errorResponse(err.Error()))
}

func errorResponse(msg string) gin.H {
	return gin.H{"error": msg}
}
