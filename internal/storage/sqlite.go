package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:statereport.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return newSQLiteWithDB(db), nil
}

func newSQLiteWithDB(db *sql.DB) *sqliteStore {
	return &sqliteStore{baseStore{
		db: db,
		dialect: dialect{
			placeholder: func(int) string { return "?" },
			timeArg:     func(t time.Time) any { return formatTime(t) },
		},
	}}
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	intervalColumns := `(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			group_id INTEGER NOT NULL,
			member_id INTEGER NOT NULL,
			signal_type TEXT NOT NULL,
			value_kind TEXT NOT NULL,
			value_num REAL,
			value_text TEXT,
			start_ts TEXT NOT NULL,
			end_ts TEXT
		)`
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS samples (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			group_id INTEGER NOT NULL,
			member_id INTEGER NOT NULL,
			signal_type TEXT NOT NULL,
			value_kind TEXT NOT NULL,
			value_num REAL,
			value_text TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_samples_entity_ts ON samples(group_id, member_id, ts)`,
		`CREATE TABLE IF NOT EXISTS reports (
			run_id TEXT PRIMARY KEY,
			generated_at TEXT NOT NULL,
			interval_count INTEGER NOT NULL,
			alert_count INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS intervals ` + intervalColumns,
		`CREATE INDEX IF NOT EXISTS idx_intervals_entity ON intervals(group_id, member_id, signal_type, start_ts)`,
		`CREATE TABLE IF NOT EXISTS alerts ` + intervalColumns,
		`CREATE INDEX IF NOT EXISTS idx_alerts_start ON alerts(start_ts)`,
	})
}
