package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"statereport/internal/alerts"
	"statereport/internal/config"
	"statereport/internal/engine"
	"statereport/internal/metrics"
	"statereport/internal/model"
	"statereport/internal/states"
	"statereport/internal/storage"
)

type testServer struct {
	handler http.Handler
	states  *states.Store
	alerts  *alerts.Store
	cfg     *config.Manager
	store   storage.Store
}

func newTestServer(t *testing.T, withStorage bool) *testServer {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Extraction.AlertStates = []model.Value{model.Int(4)}
	mgr := config.NewStaticManager(cfg)
	var store storage.Store
	if withStorage {
		dsn := "file:" + filepath.Join(t.TempDir(), "api.db")
		s, err := storage.NewStore(config.StorageConfig{Enabled: true, Driver: "sqlite", DSN: dsn})
		if err != nil {
			t.Fatalf("open store: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		if err := s.Init(context.Background()); err != nil {
			t.Fatalf("init store: %v", err)
		}
		store = s
	}
	reg := prometheus.NewRegistry()
	st := states.NewStore(100)
	al := alerts.NewStore(100)
	eng := engine.NewEngine(cfg, nil, st, al, store, nil, metrics.NewCollectors(reg))
	srv := NewServer(mgr, st, al, store, eng, reg, nil, "test")
	return &testServer{handler: srv.Router(), states: st, alerts: al, cfg: mgr, store: store}
}

func (ts *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

const samplesBody = `[
 {"timestamp":"2024-05-01T08:00:00Z","group_id":1,"member_id":10,"signal_type":"state","value":1},
 {"timestamp":"2024-05-01T08:00:10.5Z","group_id":1,"member_id":10,"signal_type":"state","value":4},
 {"timestamp":"2024-05-01T08:00:20Z","group_id":1,"member_id":10,"signal_type":"state","value":1},
 {"timestamp":"2024-05-01T08:00:05Z","group_id":1,"member_id":10,"signal_type":"warning","value":"overheat"}
]`

type extractPayload struct {
	Intervals []model.Interval `json:"intervals"`
	Alerts    []model.Interval `json:"alerts"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, false)
	if rec := ts.do(t, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestExtractUsesConfiguredPolicy(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(t, http.MethodPost, "/extract", `{"samples":`+samplesBody+`}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out extractPayload
	decode(t, rec, &out)
	if len(out.Intervals) != 4 {
		t.Fatalf("expected 4 intervals, got %d", len(out.Intervals))
	}
	if len(out.Alerts) != 2 {
		t.Fatalf("expected state 4 and warning alerts, got %+v", out.Alerts)
	}
	if ts.states.Len() != 0 || len(ts.alerts.List(0)) != 0 {
		t.Fatalf("extract must not touch the stores")
	}
}

func TestExtractOverridesPolicy(t *testing.T) {
	ts := newTestServer(t, false)
	body := `{"samples":` + samplesBody + `,"alert_states":[1],"include_warnings":false}`
	rec := ts.do(t, http.MethodPost, "/extract", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out extractPayload
	decode(t, rec, &out)
	if len(out.Alerts) != 2 {
		t.Fatalf("expected the two state 1 intervals, got %d", len(out.Alerts))
	}
	for _, a := range out.Alerts {
		if a.SignalType != model.SignalState || !a.Value.Equal(model.Int(1)) {
			t.Fatalf("unexpected alert %+v", a)
		}
	}
}

func TestExtractEmptyAndInvalid(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(t, http.MethodPost, "/extract", `{"samples":[]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out extractPayload
	decode(t, rec, &out)
	if out.Intervals == nil || len(out.Intervals) != 0 || len(out.Alerts) != 0 {
		t.Fatalf("expected empty lists, got %s", rec.Body.String())
	}

	mixed := `{"samples":[
 {"timestamp":"2024-05-01T08:00:00Z","group_id":1,"member_id":1,"signal_type":"state","value":1},
 {"timestamp":"2024-05-01T08:00:01Z","group_id":1,"member_id":1,"signal_type":"state","value":"one"}]}`
	rec = ts.do(t, http.MethodPost, "/extract", mixed)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid input") {
		t.Fatalf("expected invalid input error, got %s", rec.Body.String())
	}
	if rec := ts.do(t, http.MethodGet, "/extract", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestSamplesFeedStatesAlertsAndReports(t *testing.T) {
	ts := newTestServer(t, true)
	rec := ts.do(t, http.MethodPost, "/samples", samplesBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var report model.Report
	decode(t, rec, &report)
	if report.RunID == "" || len(report.Alerts) != 2 {
		t.Fatalf("unexpected report %+v", report)
	}

	rec = ts.do(t, http.MethodGet, "/states/1/10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var entity struct {
		Intervals []model.Interval `json:"intervals"`
		Current   []model.Interval `json:"current"`
	}
	decode(t, rec, &entity)
	if len(entity.Intervals) != 4 || len(entity.Current) != 2 {
		t.Fatalf("unexpected entity states %s", rec.Body.String())
	}
	if rec := ts.do(t, http.MethodGet, "/states/1/99", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/states/x/10", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/alerts?limit=1", "")
	var listed struct {
		Count int `json:"count"`
	}
	decode(t, rec, &listed)
	if listed.Count != 1 {
		t.Fatalf("expected limited alerts, got %d", listed.Count)
	}

	rec = ts.do(t, http.MethodGet, "/alerts?group_id=1&member_id=10&signal=warning&open=true", "")
	decode(t, rec, &listed)
	if listed.Count != 1 {
		t.Fatalf("expected the open warning alert, got %d", listed.Count)
	}
	if rec := ts.do(t, http.MethodGet, "/alerts?group_id=1", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without member_id, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/reports/1/10?signal=state&start=2024-05-01T08:00:05Z", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var stored extractPayload
	decode(t, rec, &stored)
	if len(stored.Intervals) != 2 || len(stored.Alerts) != 1 {
		t.Fatalf("unexpected stored report %s", rec.Body.String())
	}
	if rec := ts.do(t, http.MethodGet, "/reports/1/10?start=yesterday", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/status", "")
	var status statusResponse
	decode(t, rec, &status)
	if status.Engine.Runs != 1 || status.Engine.StoredAlerts != 2 || !status.Storage.Enabled {
		t.Fatalf("unexpected status %s", rec.Body.String())
	}
}

func TestReportsWithoutStorage(t *testing.T) {
	ts := newTestServer(t, false)
	if rec := ts.do(t, http.MethodGet, "/reports/1/10", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestSamplesRejectsInvalidBatch(t *testing.T) {
	ts := newTestServer(t, false)
	body := `[{"timestamp":"2024-05-01T08:00:00Z","group_id":1,"member_id":1,"signal_type":"state","value":1},
 {"timestamp":"2024-05-01T08:00:01Z","group_id":1,"member_id":1,"signal_type":"state","value":"one"}]`
	if rec := ts.do(t, http.MethodPost, "/samples", body); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if ts.states.Len() != 0 {
		t.Fatalf("expected no states recorded")
	}
}

func TestAdminClearAndReset(t *testing.T) {
	ts := newTestServer(t, false)
	if rec := ts.do(t, http.MethodPost, "/samples", samplesBody); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/admin/clear", `{"target":"states"}`); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ts.states.Len() != 0 || len(ts.alerts.List(0)) == 0 {
		t.Fatalf("expected only states cleared")
	}
	if rec := ts.do(t, http.MethodPost, "/admin/clear", `{"target":"bogus"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/admin/reset", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(ts.alerts.List(0)) != 0 {
		t.Fatalf("expected alerts cleared by reset")
	}
}

func TestUpdateExtractionPolicy(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(t, http.MethodPost, "/config/extraction", `{"alert_states":["fault"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	cfg := ts.cfg.Get()
	if !cfg.Extraction.AlertStateSet().Contains(model.Text("fault")) {
		t.Fatalf("expected text alert state, got %+v", cfg.Extraction.AlertStates)
	}
	if !cfg.Extraction.IncludeWarnings {
		t.Fatalf("expected include_warnings preserved")
	}
	if rec := ts.do(t, http.MethodPost, "/config/extraction", `{"alert_states":[null]}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid alert state, got %d", rec.Code)
	}
	rec = ts.do(t, http.MethodGet, "/config/extraction", "")
	if !strings.Contains(rec.Body.String(), "fault") {
		t.Fatalf("expected updated policy, got %s", rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, false)
	ts.do(t, http.MethodPost, "/samples", samplesBody)
	rec := ts.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "statereport_samples_total 4") {
		t.Fatalf("expected samples counter in exposition")
	}
}

func TestSamplesStorageFailuresAreCounted(t *testing.T) {
	ts := newTestServer(t, true)
	if err := ts.store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	rec := ts.do(t, http.MethodPost, "/samples", samplesBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("storage failures must not fail the batch, got %d", rec.Code)
	}
	rec = ts.do(t, http.MethodGet, "/metrics", "")
	if !strings.Contains(rec.Body.String(), "statereport_storage_errors_total 2") {
		t.Fatalf("expected report and sample writes counted as storage errors")
	}
}
