package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"statereport/internal/model"
)

type Config struct {
	LogLevel   string           `json:"log_level" yaml:"log_level"`
	Extraction ExtractionConfig `json:"extraction" yaml:"extraction"`
	Ingest     IngestConfig     `json:"ingest" yaml:"ingest"`
	Publish    PublishConfig    `json:"publish" yaml:"publish"`
	API        APIConfig        `json:"api" yaml:"api"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	States     StatesConfig     `json:"states" yaml:"states"`
	Alerts     AlertsConfig     `json:"alerts" yaml:"alerts"`
}

// ExtractionConfig is the alert policy applied to every extracted batch.
type ExtractionConfig struct {
	AlertStates     []model.Value `json:"alert_states" yaml:"alert_states"`
	IncludeWarnings bool          `json:"include_warnings" yaml:"include_warnings"`
}

func (e ExtractionConfig) AlertStateSet() model.ValueSet {
	return model.NewValueSet(e.AlertStates...)
}

type IngestConfig struct {
	BatchSize    int           `json:"batch_size" yaml:"batch_size"`
	BatchTimeout time.Duration `json:"batch_timeout" yaml:"batch_timeout"`
	File         FileConfig    `json:"file" yaml:"file"`
	Kafka        KafkaConfig   `json:"kafka" yaml:"kafka"`
	Parser       ParserConfig  `json:"parser" yaml:"parser"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type ParserConfig struct {
	Timezone string `json:"timezone" yaml:"timezone"`
}

type PublishConfig struct {
	DedupeWindow time.Duration      `json:"dedupe_window" yaml:"dedupe_window"`
	Kafka        PublishKafkaConfig `json:"kafka" yaml:"kafka"`
}

type PublishKafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type StatesConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type AlertsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Extraction: ExtractionConfig{
			IncludeWarnings: true,
		},
		Ingest: IngestConfig{
			BatchSize:    5000,
			BatchTimeout: 10 * time.Second,
			File:         FileConfig{Enabled: false},
			Kafka:        KafkaConfig{Enabled: false},
			Parser:       ParserConfig{Timezone: "UTC"},
		},
		Publish: PublishConfig{
			DedupeWindow: 24 * time.Hour,
			Kafka:        PublishKafkaConfig{Enabled: false},
		},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:statereport.db?_pragma=busy_timeout(5000)"},
		States:  StatesConfig{StoreLimit: 5000},
		Alerts:  AlertsConfig{StoreLimit: 1000},
	}
}

// Load reads a YAML or JSON config file on top of DefaultConfig.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(content)
}

func Parse(content []byte) (*Config, error) {
	cfg := DefaultConfig()
	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode config: %w", decodeErr)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.States.StoreLimit <= 0 {
		cfg.States.StoreLimit = 5000
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = 1000
	}
	if cfg.Ingest.BatchSize <= 0 {
		cfg.Ingest.BatchSize = 5000
	}
	if cfg.Ingest.BatchTimeout <= 0 {
		cfg.Ingest.BatchTimeout = 10 * time.Second
	}
	if cfg.Ingest.Parser.Timezone == "" {
		cfg.Ingest.Parser.Timezone = "UTC"
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.File.Enabled && cfg.Ingest.File.Path == "" {
		return errors.New("ingest.file.path required when ingest.file.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Publish.Kafka.Enabled {
		if len(cfg.Publish.Kafka.Brokers) == 0 || cfg.Publish.Kafka.Topic == "" {
			return errors.New("publish.kafka requires brokers, topic")
		}
	}
	if cfg.Publish.DedupeWindow < 0 {
		return errors.New("publish.dedupe_window must be >= 0")
	}
	if _, err := time.LoadLocation(cfg.Ingest.Parser.Timezone); err != nil {
		return fmt.Errorf("ingest.parser.timezone: %w", err)
	}
	for i, v := range cfg.Extraction.AlertStates {
		if !v.IsValid() {
			return fmt.Errorf("extraction.alert_states[%d] is empty", i)
		}
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "sqlite", "postgres", "postgresql":
		default:
			return fmt.Errorf("storage.driver %q not supported", cfg.Storage.Driver)
		}
	}
	return nil
}

// Manager holds the live config. mu serialises writers and guards modTime;
// readers go through the atomic value.
type Manager struct {
	path    string
	cfg     atomic.Value
	mu      sync.Mutex
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps a config that has no backing file.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	m.touchLocked()
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(cfg)
}

// Modify applies fn to a copy of the current config and stores the result,
// with no other writer in between. An error from fn or from validation
// leaves the current config in place.
func (m *Manager) Modify(fn func(next *Config) error) (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := *m.Get()
	next.Extraction.AlertStates = append([]model.Value(nil), next.Extraction.AlertStates...)
	if err := fn(&next); err != nil {
		return nil, err
	}
	if err := m.updateLocked(&next); err != nil {
		return nil, err
	}
	return &next, nil
}

func (m *Manager) updateLocked(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	if m.path == "" {
		m.cfg.Store(cfg)
		return nil
	}
	if err := Save(m.path, cfg); err != nil {
		return err
	}
	m.cfg.Store(cfg)
	m.touchLocked()
	return nil
}

func (m *Manager) touchLocked() {
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return info.ModTime().After(m.modTime), nil
}

// Watch polls the config file's mod time and reloads it until ctx is done.
func (m *Manager) Watch(ctx context.Context, interval time.Duration, onReload func(*Config), onError func(error)) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-ctx.Done():
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
