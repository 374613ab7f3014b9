package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"statereport/internal/model"
)

func TestParseYAML(t *testing.T) {
	cfg, err := Parse([]byte(`
log_level: debug
extraction:
  alert_states: [1, 2, FAULT]
  include_warnings: false
ingest:
  batch_size: 100
  batch_timeout: 2s
  kafka:
    enabled: true
    brokers: ["localhost:9092"]
    topic: component-samples
    group_id: statereport
publish:
  dedupe_window: 1h
storage:
  enabled: true
  driver: postgres
  dsn: postgres://localhost/statereport
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Extraction.IncludeWarnings {
		t.Fatalf("top level fields not applied: %+v", cfg)
	}
	set := cfg.Extraction.AlertStateSet()
	if !set.Contains(model.Int(2)) || !set.Contains(model.Text("FAULT")) || set.Contains(model.Text("1")) {
		t.Fatalf("alert states mismatch: %v", cfg.Extraction.AlertStates)
	}
	if cfg.Ingest.BatchSize != 100 || cfg.Ingest.BatchTimeout != 2*time.Second {
		t.Fatalf("ingest batch settings: %+v", cfg.Ingest)
	}
	if cfg.Publish.DedupeWindow != time.Hour {
		t.Fatalf("dedupe window: %s", cfg.Publish.DedupeWindow)
	}
	if cfg.States.StoreLimit != 5000 || cfg.Alerts.StoreLimit != 1000 {
		t.Fatalf("defaults not kept")
	}
}

func TestParseJSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"extraction":{"alert_states":["E_STOP",3],"include_warnings":true},"api":{"enabled":false}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !cfg.Extraction.AlertStateSet().Contains(model.Text("E_STOP")) || cfg.API.Enabled {
		t.Fatalf("json config mismatch: %+v", cfg)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"empty":            "   ",
		"kafka":            "ingest:\n  kafka:\n    enabled: true\n",
		"publish":          "publish:\n  kafka:\n    enabled: true\n    topic: alerts\n",
		"file":             "ingest:\n  file:\n    enabled: true\n",
		"timezone":         "ingest:\n  parser:\n    timezone: Mars/Olympus\n",
		"null state":       "extraction:\n  alert_states: [1, null]\n",
		"storage driver":   "storage:\n  enabled: true\n  driver: oracle\n",
		"api without addr": "api:\n  enabled: true\n  addr: \"\"\n",
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestManagerUpdateAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "statereport.yaml")
	if err := os.WriteFile(path, []byte("extraction:\n  alert_states: [1]\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	next := *m.Get()
	next.Extraction.AlertStates = []model.Value{model.Int(7)}
	if err := m.Update(&next); err != nil {
		t.Fatalf("update: %v", err)
	}
	reloaded, err := m.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.Extraction.AlertStateSet().Contains(model.Int(7)) {
		t.Fatalf("saved alert states not reloaded: %v", reloaded.Extraction.AlertStates)
	}
	if reloaded.Ingest.BatchTimeout != 10*time.Second {
		t.Fatalf("duration did not round-trip: %s", reloaded.Ingest.BatchTimeout)
	}
}

func TestStaticManager(t *testing.T) {
	m := NewStaticManager(nil)
	if m.Path() != "" || m.Get() == nil {
		t.Fatalf("static manager defaults")
	}
	if needs, err := m.NeedsReload(); needs || err != nil {
		t.Fatalf("static manager never reloads")
	}
	cfg := DefaultConfig()
	cfg.Extraction.IncludeWarnings = false
	if err := m.Update(cfg); err != nil {
		t.Fatalf("update: %v", err)
	}
	if m.Get().Extraction.IncludeWarnings {
		t.Fatalf("update not applied")
	}
}

func TestManagerWatchWhileUpdating(t *testing.T) {
	path := filepath.Join(t.TempDir(), "statereport.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Watch(ctx, time.Millisecond, nil, nil)
	}()
	for i := 0; i < 50; i++ {
		next := *m.Get()
		next.Extraction.AlertStates = []model.Value{model.Int(int64(i))}
		if err := m.Update(&next); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}
	cancel()
	<-done
	if !m.Get().Extraction.AlertStateSet().Contains(model.Int(49)) {
		t.Fatalf("expected last update to win, got %v", m.Get().Extraction.AlertStates)
	}
}

func TestManagerModifyIsAtomic(t *testing.T) {
	m := NewStaticManager(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Modify(func(next *Config) error {
				next.Extraction.AlertStates = append(next.Extraction.AlertStates, model.Int(int64(i)))
				return nil
			})
			if err != nil {
				t.Errorf("modify: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if got := len(m.Get().Extraction.AlertStates); got != 20 {
		t.Fatalf("expected 20 alert states, lost updates left %d", got)
	}
}

func TestManagerModifyKeepsConfigOnError(t *testing.T) {
	m := NewStaticManager(nil)
	before := m.Get()
	boom := errors.New("bad body")
	if _, err := m.Modify(func(next *Config) error {
		next.Extraction.IncludeWarnings = false
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if _, err := m.Modify(func(next *Config) error {
		next.Extraction.AlertStates = []model.Value{{}}
		return nil
	}); err == nil {
		t.Fatalf("expected validation error")
	}
	if m.Get() != before {
		t.Fatalf("failed modify must keep the current config")
	}
}
