package storage

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/statereport?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return newPostgresWithDB(db), nil
}

func newPostgresWithDB(db *sql.DB) *postgresStore {
	return &postgresStore{baseStore{
		db: db,
		dialect: dialect{
			placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
			timeArg:     func(t time.Time) any { return t.UTC() },
		},
	}}
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	intervalColumns := `(
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES reports(run_id),
			group_id BIGINT NOT NULL,
			member_id BIGINT NOT NULL,
			signal_type TEXT NOT NULL,
			value_kind TEXT NOT NULL,
			value_num DOUBLE PRECISION,
			value_text TEXT,
			start_ts TIMESTAMPTZ NOT NULL,
			end_ts TIMESTAMPTZ
		)`
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS samples (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			group_id BIGINT NOT NULL,
			member_id BIGINT NOT NULL,
			signal_type TEXT NOT NULL,
			value_kind TEXT NOT NULL,
			value_num DOUBLE PRECISION,
			value_text TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_samples_entity_ts ON samples(group_id, member_id, ts)`,
		`CREATE TABLE IF NOT EXISTS reports (
			run_id TEXT PRIMARY KEY,
			generated_at TIMESTAMPTZ NOT NULL,
			interval_count INTEGER NOT NULL,
			alert_count INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS intervals ` + intervalColumns,
		`CREATE INDEX IF NOT EXISTS idx_intervals_entity ON intervals(group_id, member_id, signal_type, start_ts)`,
		`CREATE TABLE IF NOT EXISTS alerts ` + intervalColumns,
		`CREATE INDEX IF NOT EXISTS idx_alerts_start ON alerts(start_ts)`,
	})
}
