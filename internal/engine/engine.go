package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"statereport/internal/alerts"
	"statereport/internal/config"
	"statereport/internal/ingest"
	"statereport/internal/intervals"
	"statereport/internal/metrics"
	"statereport/internal/model"
	"statereport/internal/publish"
	"statereport/internal/states"
	"statereport/internal/storage"
)

// Engine runs interval extraction over batches of samples and fans the
// results out to the in-memory stores, storage and the alert publisher.
// Batches are processed one at a time.
type Engine struct {
	logger    *slog.Logger
	states    *states.Store
	alerts    *alerts.Store
	store     storage.Store
	publisher publish.Publisher
	metrics   *metrics.Collectors
	cfg       atomic.Value
	mu        sync.Mutex
	started   time.Time
	deDupe    *DedupeCache
	runs      atomic.Uint64
	last      atomic.Value
}

// Status is a snapshot of engine activity.
type Status struct {
	StartedAt       time.Time `json:"started_at"`
	Runs            uint64    `json:"runs"`
	LastRunID       string    `json:"last_run_id,omitempty"`
	LastRunAt       time.Time `json:"last_run_at,omitempty"`
	TrackedEntities int       `json:"tracked_entities"`
	StoredAlerts    int       `json:"stored_alerts"`
	PendingDedupe   int       `json:"publish_dedupe_entries"`
}

type lastRun struct {
	id string
	at time.Time
}

func NewEngine(cfg *config.Config, logger *slog.Logger, statesStore *states.Store, alertsStore *alerts.Store, store storage.Store, publisher publish.Publisher, collectors *metrics.Collectors) *Engine {
	e := &Engine{
		logger:    logger,
		states:    statesStore,
		alerts:    alertsStore,
		store:     store,
		publisher: publisher,
		metrics:   collectors,
		started:   time.Now().UTC(),
		deDupe:    NewDedupeCache(),
	}
	e.cfg.Store(cfg)
	return e
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

// Start pulls batches from src in the background until the source is
// exhausted or ctx ends. The returned channel yields Run's result.
func (e *Engine) Start(ctx context.Context, src ingest.Source) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- e.Run(ctx, src)
		close(done)
	}()
	return done
}

// Run processes batches from src until it returns io.EOF or ctx ends.
// Batches rejected as invalid input are logged and skipped; any other
// source error stops the run.
func (e *Engine) Run(ctx context.Context, src ingest.Source) error {
	for {
		batch, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if len(batch) == 0 {
			continue
		}
		if _, err := e.Process(ctx, batch); err != nil && e.logger != nil {
			e.logger.Warn("batch rejected", "samples", len(batch), "err", err)
		}
	}
}

// Process extracts intervals and alert records from one batch. Extraction
// errors are returned unmodified and leave every store untouched.
func (e *Engine) Process(ctx context.Context, samples []model.Sample) (model.Report, error) {
	cfg := e.config()
	e.mu.Lock()
	defer e.mu.Unlock()

	began := time.Now()
	all, alertList, err := intervals.Extract(samples, cfg.Extraction.AlertStateSet(), cfg.Extraction.IncludeWarnings)
	if e.metrics != nil {
		e.metrics.ExtractDuration.Observe(time.Since(began).Seconds())
	}
	if err != nil {
		if e.metrics != nil {
			e.metrics.ExtractErrors.Inc()
		}
		return model.Report{}, err
	}

	report := model.Report{
		RunID:       uuid.NewString(),
		GeneratedAt: time.Now().UTC(),
		Intervals:   all,
		Alerts:      alertList,
	}

	e.states.Record(all)
	for _, a := range alertList {
		e.alerts.Add(a)
		if e.logger != nil {
			e.logger.Warn("alert interval",
				"run_id", report.RunID,
				"group_id", a.GroupID,
				"member_id", a.MemberID,
				"signal_type", a.SignalType,
				"value", a.Value.String(),
				"start", a.Start.Format(time.RFC3339Nano),
				"open", a.IsOpen(),
			)
		}
	}
	if e.metrics != nil {
		e.metrics.Samples.Add(float64(len(samples)))
		e.metrics.Intervals.Add(float64(len(all)))
		for _, a := range alertList {
			e.metrics.Alerts.WithLabelValues(a.SignalType).Inc()
		}
		e.metrics.TrackedEntities.Set(float64(e.states.Len()))
	}

	if e.store != nil {
		if err := e.store.SaveReport(ctx, report); err != nil {
			if e.logger != nil {
				e.logger.Error("save report failed", "run_id", report.RunID, "err", err)
			}
			if e.metrics != nil {
				e.metrics.StorageErrors.Inc()
			}
		}
	}
	e.publish(ctx, cfg, report.RunID, alertList)

	e.runs.Add(1)
	e.last.Store(lastRun{id: report.RunID, at: report.GeneratedAt})
	if e.logger != nil {
		e.logger.Info("batch processed",
			"run_id", report.RunID,
			"samples", len(samples),
			"intervals", len(all),
			"alerts", len(alertList),
		)
	}
	return report, nil
}

// SaveSamples persists raw samples when storage is configured. Failures are
// logged and counted like report writes, then returned.
func (e *Engine) SaveSamples(ctx context.Context, runID string, samples []model.Sample) error {
	if e.store == nil || len(samples) == 0 {
		return nil
	}
	if err := e.store.SaveSamples(ctx, samples); err != nil {
		if e.logger != nil {
			e.logger.Error("save samples failed", "run_id", runID, "samples", len(samples), "err", err)
		}
		if e.metrics != nil {
			e.metrics.StorageErrors.Inc()
		}
		return err
	}
	return nil
}

func (e *Engine) publish(ctx context.Context, cfg *config.Config, runID string, alertList []model.Interval) {
	if e.publisher == nil || len(alertList) == 0 {
		return
	}
	now := time.Now().UTC()
	fresh := make([]model.Interval, 0, len(alertList))
	for _, a := range alertList {
		if e.isDuplicate(a, now, cfg.Publish.DedupeWindow) {
			if e.metrics != nil {
				e.metrics.Suppressed.Inc()
			}
			continue
		}
		fresh = append(fresh, a)
	}
	if len(fresh) == 0 {
		return
	}
	if err := e.publisher.Publish(ctx, fresh); err != nil {
		if e.logger != nil {
			e.logger.Error("publish alerts failed", "run_id", runID, "alerts", len(fresh), "err", err)
		}
		if e.metrics != nil {
			e.metrics.PublishErrors.Inc()
		}
		e.deDupe.Forget(hashKeys(fresh))
		return
	}
	if e.metrics != nil {
		e.metrics.Published.Add(float64(len(fresh)))
	}
}

func (e *Engine) Status() Status {
	st := Status{
		StartedAt:       e.started,
		Runs:            e.runs.Load(),
		TrackedEntities: e.states.Len(),
		StoredAlerts:    e.alerts.Len(),
	}
	e.mu.Lock()
	st.PendingDedupe = e.deDupe.Len()
	e.mu.Unlock()
	if v, ok := e.last.Load().(lastRun); ok {
		st.LastRunID = v.id
		st.LastRunAt = v.at
	}
	return st
}

// Reset drops the publish dedupe history so every alert is eligible for
// publishing again.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.deDupe = NewDedupeCache()
	e.mu.Unlock()
}

func (e *Engine) isDuplicate(a model.Interval, now time.Time, dedupeWindow time.Duration) bool {
	if dedupeWindow <= 0 {
		return false
	}
	return e.deDupe.Seen(hashAlert(a), now, dedupeWindow)
}

func hashKeys(list []model.Interval) []string {
	keys := make([]string, 0, len(list))
	for _, a := range list {
		keys = append(keys, hashAlert(a))
	}
	return keys
}

func hashAlert(a model.Interval) string {
	end := "open"
	if a.End != nil {
		end = a.End.UTC().Format(time.RFC3339Nano)
	}
	parts := []string{
		publish.MessageKey(a),
		a.Value.Kind().String(),
		a.Value.String(),
		a.Start.UTC().Format(time.RFC3339Nano),
		end,
	}
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])
}
