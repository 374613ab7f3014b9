package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"statereport/internal/alerts"
	"statereport/internal/config"
	"statereport/internal/engine"
	"statereport/internal/ingest"
	"statereport/internal/intervals"
	"statereport/internal/model"
	"statereport/internal/states"
	"statereport/internal/storage"
)

const maxBodyBytes = 32 << 20

type EngineControl interface {
	Process(ctx context.Context, samples []model.Sample) (model.Report, error)
	SaveSamples(ctx context.Context, runID string, samples []model.Sample) error
	Reset()
	UpdateConfig(cfg *config.Config)
	Status() engine.Status
}

type Server struct {
	cfg      *config.Manager
	states   *states.Store
	alerts   *alerts.Store
	store    storage.Store
	engine   EngineControl
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	version  string
}

type statusResponse struct {
	Status     string                  `json:"status"`
	Time       string                  `json:"time"`
	Version    string                  `json:"version"`
	ConfigPath string                  `json:"config_path"`
	Extraction config.ExtractionConfig `json:"extraction"`
	Ingest     ingestStatus            `json:"ingest"`
	Publish    publishStatus           `json:"publish"`
	Storage    storageStatus           `json:"storage"`
	Engine     engine.Status           `json:"engine"`
}

type ingestStatus struct {
	File  bool `json:"file"`
	Kafka bool `json:"kafka"`
}

type publishStatus struct {
	Kafka        bool   `json:"kafka"`
	DedupeWindow string `json:"dedupe_window"`
}

type storageStatus struct {
	Enabled bool   `json:"enabled"`
	Driver  string `json:"driver,omitempty"`
}

type extractRequest struct {
	Samples         json.RawMessage `json:"samples"`
	AlertStates     []model.Value   `json:"alert_states"`
	IncludeWarnings *bool           `json:"include_warnings"`
}

type extractResponse struct {
	Intervals []model.Interval `json:"intervals"`
	Alerts    []model.Interval `json:"alerts"`
}

func NewServer(cfg *config.Manager, statesStore *states.Store, alertsStore *alerts.Store, store storage.Store, eng EngineControl, gatherer prometheus.Gatherer, logger *slog.Logger, version string) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		cfg:      cfg,
		states:   statesStore,
		alerts:   alertsStore,
		store:    store,
		engine:   eng,
		gatherer: gatherer,
		logger:   logger,
		version:  version,
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/extract", s.handleExtract).Methods(http.MethodPost)
	r.HandleFunc("/samples", s.handleSamples).Methods(http.MethodPost)
	r.HandleFunc("/reports/{group_id}/{member_id}", s.handleReport).Methods(http.MethodGet)
	r.HandleFunc("/states", s.handleStates).Methods(http.MethodGet)
	r.HandleFunc("/states/{group_id}/{member_id}", s.handleEntityStates).Methods(http.MethodGet)
	r.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	r.HandleFunc("/config/extraction", s.handleGetExtraction).Methods(http.MethodGet)
	r.HandleFunc("/config/extraction", s.handleSetExtraction).Methods(http.MethodPost)
	r.HandleFunc("/admin/clear", s.handleClear).Methods(http.MethodPost)
	r.HandleFunc("/admin/reset", s.handleReset).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

// Start serves the API until ctx ends. It returns nil when the API is
// disabled.
func Start(ctx context.Context, srv *Server) *http.Server {
	if srv == nil || srv.cfg == nil {
		return nil
	}
	logger := srv.logger
	current := srv.cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           handlers.LoggingHandler(os.Stdout, srv.Router()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Extraction: cfg.Extraction,
		Ingest: ingestStatus{
			File:  cfg.Ingest.File.Enabled,
			Kafka: cfg.Ingest.Kafka.Enabled,
		},
		Publish: publishStatus{
			Kafka:        cfg.Publish.Kafka.Enabled,
			DedupeWindow: cfg.Publish.DedupeWindow.String(),
		},
		Storage: storageStatus{Enabled: s.store != nil},
	}
	if s.store != nil {
		resp.Storage.Driver = cfg.Storage.Driver
	}
	if s.engine != nil {
		resp.Engine = s.engine.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleExtract runs the extractor without touching any store.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req extractRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg := s.cfg.Get()
	samples := []model.Sample{}
	if len(req.Samples) > 0 && string(req.Samples) != "null" {
		samples, err = ingest.DecodeSamples(ingest.NewParser(), req.Samples, cfg)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	alertStates := cfg.Extraction.AlertStateSet()
	if req.AlertStates != nil {
		alertStates = model.NewValueSet(req.AlertStates...)
	}
	includeWarnings := cfg.Extraction.IncludeWarnings
	if req.IncludeWarnings != nil {
		includeWarnings = *req.IncludeWarnings
	}
	all, alertList, err := intervals.Extract(samples, alertStates, includeWarnings)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, extractResponse{Intervals: all, Alerts: alertList})
}

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("engine not running"))
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	samples, err := ingest.DecodeSamples(ingest.NewParser(), body, s.cfg.Get())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	report, err := s.engine.Process(r.Context(), samples)
	if err != nil {
		var invalid *intervals.InvalidInputError
		if errors.As(err, &invalid) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	_ = s.engine.SaveSamples(r.Context(), report.RunID, samples)
	writeJSON(w, http.StatusOK, report)
}

// handleReport rebuilds the timeline of one entity from stored samples
// using the configured alert policy.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("storage disabled"))
		return
	}
	entity, err := entityFromVars(mux.Vars(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	q := storage.SampleQuery{GroupID: entity.GroupID, MemberID: entity.MemberID}
	values := r.URL.Query()
	if q.Start, err = parseTimeParam(values.Get("start")); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if q.End, err = parseTimeParam(values.Get("end")); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	for _, raw := range values["signal"] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				q.SignalTypes = append(q.SignalTypes, part)
			}
		}
	}
	samples, err := ingest.NewStoreSource(s.store, q).Next(r.Context())
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	cfg := s.cfg.Get()
	all, alertList, err := intervals.Extract(samples, cfg.Extraction.AlertStateSet(), cfg.Extraction.IncludeWarnings)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"group_id":  entity.GroupID,
		"member_id": entity.MemberID,
		"samples":   len(samples),
		"intervals": all,
		"alerts":    alertList,
	})
}

func (s *Server) handleStates(w http.ResponseWriter, r *http.Request) {
	all := s.states.GetAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"states": all,
		"count":  len(all),
	})
}

func (s *Server) handleEntityStates(w http.ResponseWriter, r *http.Request) {
	entity, err := entityFromVars(mux.Vars(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	list, updated, ok := s.states.Get(entity)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"group_id":   entity.GroupID,
		"member_id":  entity.MemberID,
		"updated_at": updated.Format(time.RFC3339Nano),
		"intervals":  list,
		"current":    s.states.Current(entity),
	})
}

// handleAlerts lists stored alert records. Optional filters: limit, since,
// group_id with member_id, signal, open=true.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	limit := 0
	if v := values.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var f alerts.Filter
	var err error
	if f.Since, err = parseTimeParam(values.Get("since")); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if values.Get("group_id") != "" || values.Get("member_id") != "" {
		entity, err := entityFromVars(map[string]string{
			"group_id":  values.Get("group_id"),
			"member_id": values.Get("member_id"),
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		f.Entity = &entity
	}
	f.SignalType = strings.TrimSpace(values.Get("signal"))
	f.OpenOnly, _ = strconv.ParseBool(values.Get("open"))
	var list []model.Interval
	if f == (alerts.Filter{}) {
		list = s.alerts.List(limit)
	} else {
		list = s.alerts.Query(f, limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleGetExtraction(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"extraction": s.cfg.Get().Extraction,
	})
}

func (s *Server) handleSetExtraction(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	next, err := s.cfg.Modify(func(next *config.Config) error {
		return json.Unmarshal(body, &next.Extraction)
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if s.engine != nil {
		s.engine.UpdateConfig(next)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.states.Clear()
		s.alerts.Clear()
	case "alerts":
		s.alerts.Clear()
	case "states":
		s.states.Clear()
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if s.engine != nil {
		s.engine.Reset()
	}
	s.states.Clear()
	s.alerts.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func entityFromVars(vars map[string]string) (model.Entity, error) {
	group, err := strconv.ParseUint(vars["group_id"], 10, 64)
	if err != nil {
		return model.Entity{}, errors.New("invalid group_id")
	}
	member, err := strconv.ParseUint(vars["member_id"], 10, 64)
	if err != nil {
		return model.Entity{}, errors.New("invalid member_id")
	}
	return model.Entity{GroupID: group, MemberID: member}, nil
}

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, errors.New("invalid time " + strconv.Quote(v))
	}
	return ts, nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
