package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/luminousstack/lumen-heal/internal/engine"
	"github.com/luminousstack/lumen-heal/internal/models"
)

type fakeEngine struct {
	status  engine.Status
	records []engine.Record
	cycles  int
}

func (f *fakeEngine) RunCycle(context.Context) []engine.Record {
	f.cycles++
	return f.records
}

func (f *fakeEngine) Status() engine.Status { return f.status }

func (f *fakeEngine) History(limit int) []engine.Record {
	if limit > len(f.records) {
		limit = len(f.records)
	}
	return f.records[:limit]
}

func sampleRecord() engine.Record {
	return engine.Record{
		Issue: models.Issue{
			Type:        models.IssueService,
			Severity:    models.SeverityHigh,
			Component:   "nginx",
			Description: "service nginx is not running",
			Threshold:   1,
		},
		Action: models.Action{
			Category:   models.CategoryServiceManagement,
			Operation:  models.OpRestartService,
			Parameters: map[string]string{"service": "nginx"},
		},
		Result: models.ExecutionResult{
			Success:  true,
			Output:   "restarted",
			Mode:     models.ModeService,
			Duration: 42 * time.Millisecond,
		},
		Outcome: "resolved",
		Time:    time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	}
}

func newTestServer(fake *fakeEngine) http.Handler {
	return NewServer(":0", fake, slog.New(slog.DiscardHandler)).httpServer.Handler
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(&fakeEngine{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStatusHandler(t *testing.T) {
	fake := &fakeEngine{status: engine.Status{
		Mode:           models.ModeService,
		IssuesDetected: 7,
		IssuesResolved: 5,
	}}
	rec := httptest.NewRecorder()
	newTestServer(fake).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got engine.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Mode != models.ModeService || got.IssuesDetected != 7 || got.IssuesResolved != 5 {
		t.Errorf("status = %+v", got)
	}
}

func TestHistoryHandler(t *testing.T) {
	fake := &fakeEngine{records: []engine.Record{sampleRecord()}}
	rec := httptest.NewRecorder()
	newTestServer(fake).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/history?limit=1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Records []recordDTO `json:"records"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Records) != 1 {
		t.Fatalf("records = %+v", body.Records)
	}
	got := body.Records[0]
	if got.Component != "nginx" || got.Operation != models.OpRestartService || got.Outcome != "resolved" {
		t.Errorf("record = %+v", got)
	}
	if got.DurationMS != 42 {
		t.Errorf("duration_ms = %d", got.DurationMS)
	}
	if got.Time != "2026-08-25T12:00:00Z" {
		t.Errorf("time = %q", got.Time)
	}
}

func TestHistoryHandlerRejectsBadLimit(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(&fakeEngine{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/history?limit=zero", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealHandlerRunsCycle(t *testing.T) {
	fake := &fakeEngine{records: []engine.Record{sampleRecord()}}
	rec := httptest.NewRecorder()
	newTestServer(fake).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/heal", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if fake.cycles != 1 {
		t.Errorf("cycles = %d, want 1", fake.cycles)
	}
	var body struct {
		IssuesHandled int         `json:"issues_handled"`
		Records       []recordDTO `json:"records"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.IssuesHandled != 1 || len(body.Records) != 1 {
		t.Errorf("body = %+v", body)
	}
}

func TestHealHandlerRequiresPost(t *testing.T) {
	fake := &fakeEngine{}
	rec := httptest.NewRecorder()
	newTestServer(fake).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/heal", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
	if fake.cycles != 0 {
		t.Errorf("GET triggered a heal cycle")
	}
}
