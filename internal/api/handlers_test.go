package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/qualitystack/quality-core/internal/config"
	"github.com/qualitystack/quality-core/internal/generator"
	"github.com/qualitystack/quality-core/internal/models"
	"github.com/qualitystack/quality-core/internal/period"
	"github.com/qualitystack/quality-core/internal/repo"
	"github.com/qualitystack/quality-core/internal/services"
)

type reportReaderStub struct {
	report models.CachedWeeklyReport
	err    error
	count  int
}

func (r *reportReaderStub) GetWeeklyReport(ctx context.Context, agentID string, periodStart time.Time) (models.CachedWeeklyReport, error) {
	return r.report, r.err
}

func (r *reportReaderStub) GetConsecutiveFlagCount(ctx context.Context, agentID, unit string, ref time.Time, lookbackWeeks int) (int, error) {
	return r.count, r.err
}

type trackingManagerStub struct {
	record  models.AgentTrackingRecord
	records []models.AgentTrackingRecord
	stats   services.SweepStats
	err     error
}

func (t *trackingManagerStub) GetTrackingRecord(ctx context.Context, agentID string) (models.AgentTrackingRecord, error) {
	return t.record, t.err
}

func (t *trackingManagerStub) ListUnderperforming(ctx context.Context, req models.ListUnderperformingRequest) ([]models.AgentTrackingRecord, error) {
	return t.records, t.err
}

func (t *trackingManagerStub) ProcessPeriod(ctx context.Context, periodKey string) (services.SweepStats, error) {
	return t.stats, t.err
}

func (t *trackingManagerStub) ResolveManually(ctx context.Context, agentID, note string) (models.AgentTrackingRecord, error) {
	return t.record, t.err
}

func (t *trackingManagerStub) EscalateManually(ctx context.Context, agentID, note string) (models.AgentTrackingRecord, error) {
	return t.record, t.err
}

type batchRunnerStub struct {
	written int
	err     error
}

func (b *batchRunnerStub) GenerateForPeriod(ctx context.Context, periodStart time.Time) (int, error) {
	return b.written, b.err
}

func newTestServer(reports ReportReader, tracking TrackingManager, batch BatchRunner) http.Handler {
	handler := NewHandler(nil, reports, tracking, batch, period.NewCalendar(time.Thursday))
	server := NewServer(config.ServerConfig{Address: ":0"}, handler)
	return server.httpServer.Handler
}

func doRequest(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestGetWeeklyReportRoundsRates(t *testing.T) {
	start := time.Date(2025, time.January, 2, 0, 0, 0, 0, time.UTC)
	reports := &reportReaderStub{report: models.CachedWeeklyReport{
		AgentID:   "a1",
		PeriodKey: "2025-01-02",
		Summary: models.WeeklyMetricSummary{
			SchemaVersion:    models.SummarySchemaVersion,
			AgentID:          "a1",
			Period:           models.PeriodBounds{Start: start, End: start.AddDate(0, 0, 6)},
			InteractionCount: 12,
			AttitudeErrors:   5,
			AttitudeRate:     4.166666666666667,
			OperationalRate:  3.0303030303030303,
		},
	}}
	h := newTestServer(reports, &trackingManagerStub{}, &batchRunnerStub{})

	w := doRequest(h, http.MethodGet, "/api/v1/agents/a1/reports/2025-01-02", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		AttitudeRate    float64 `json:"attitude_rate"`
		OperationalRate float64 `json:"operational_rate"`
		PeriodEnd       string  `json:"period_end"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.AttitudeRate != 4.2 || resp.OperationalRate != 3.0 {
		t.Fatalf("rates must round to one decimal, got %f / %f", resp.AttitudeRate, resp.OperationalRate)
	}
	if resp.PeriodEnd != "2025-01-08" {
		t.Fatalf("expected period end 2025-01-08, got %s", resp.PeriodEnd)
	}
}

func TestGetWeeklyReportRejectsBadPeriodKey(t *testing.T) {
	h := newTestServer(&reportReaderStub{}, &trackingManagerStub{}, &batchRunnerStub{})

	// 2025-01-03 is a Friday, not a period start.
	w := doRequest(h, http.MethodGet, "/api/v1/agents/a1/reports/2025-01-03", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetTrackingRecordNotFound(t *testing.T) {
	tracking := &trackingManagerStub{err: repo.ErrTrackingNotFound}
	h := newTestServer(&reportReaderStub{}, tracking, &batchRunnerStub{})

	w := doRequest(h, http.MethodGet, "/api/v1/agents/a1/tracking", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestListUnderperformingRejectsBadLimit(t *testing.T) {
	h := newTestServer(&reportReaderStub{}, &trackingManagerStub{}, &batchRunnerStub{})

	w := doRequest(h, http.MethodGet, "/api/v1/tracking/underperforming?limit=abc", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetConsecutiveFlagCount(t *testing.T) {
	reports := &reportReaderStub{count: 3}
	h := newTestServer(reports, &trackingManagerStub{}, &batchRunnerStub{})

	w := doRequest(h, http.MethodGet, "/api/v1/agents/a1/flag-count?lookback=6", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		ConsecutiveWeeks int `json:"consecutive_weeks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ConsecutiveWeeks != 3 {
		t.Fatalf("expected 3 consecutive weeks, got %d", resp.ConsecutiveWeeks)
	}
}

func TestRunBatchConflictWhileRunning(t *testing.T) {
	batch := &batchRunnerStub{err: generator.ErrPeriodInProgress}
	h := newTestServer(&reportReaderStub{}, &trackingManagerStub{}, batch)

	w := doRequest(h, http.MethodPost, "/api/v1/admin/batch/2025-01-02", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestRunBatchReportsSweepStats(t *testing.T) {
	batch := &batchRunnerStub{written: 7}
	tracking := &trackingManagerStub{stats: services.SweepStats{Registered: 2, Resolved: 1}}
	h := newTestServer(&reportReaderStub{}, tracking, batch)

	w := doRequest(h, http.MethodPost, "/api/v1/admin/batch/2025-01-02", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Reports  int `json:"reports"`
		Tracking struct {
			Registered int `json:"registered"`
			Resolved   int `json:"resolved"`
		} `json:"tracking"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Reports != 7 || resp.Tracking.Registered != 2 || resp.Tracking.Resolved != 1 {
		t.Fatalf("unexpected batch response: %+v", resp)
	}
}

func TestOverrideRequiresNote(t *testing.T) {
	h := newTestServer(&reportReaderStub{}, &trackingManagerStub{}, &batchRunnerStub{})

	w := doRequest(h, http.MethodPost, "/api/v1/agents/a1/tracking/resolve", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestOverrideWithoutOpenEpisode(t *testing.T) {
	tracking := &trackingManagerStub{err: services.ErrNoOpenEpisode}
	h := newTestServer(&reportReaderStub{}, tracking, &batchRunnerStub{})

	w := doRequest(h, http.MethodPost, "/api/v1/agents/a1/tracking/escalate", `{"note":"handing over"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	h := newTestServer(&reportReaderStub{}, &trackingManagerStub{}, &batchRunnerStub{})

	w := doRequest(h, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
