package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"statereport/internal/config"
	"statereport/internal/model"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveSamples(ctx context.Context, samples []model.Sample) error
	QuerySamples(ctx context.Context, q SampleQuery) ([]model.Sample, error)
	SaveReport(ctx context.Context, report model.Report) error
}

// SampleQuery selects the samples of one entity. Empty SignalTypes selects
// every signal; zero Start or End leaves that side unbounded. End is
// exclusive.
type SampleQuery struct {
	GroupID     uint64
	MemberID    uint64
	SignalTypes []string
	Start       time.Time
	End         time.Time
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

// dialect captures what differs between the SQL backends.
type dialect struct {
	placeholder func(n int) string
	timeArg     func(t time.Time) any
}

type baseStore struct {
	db      *sql.DB
	dialect dialect
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) placeholders(from, count int) string {
	parts := make([]string, count)
	for i := range parts {
		parts[i] = b.dialect.placeholder(from + i)
	}
	return strings.Join(parts, ", ")
}

func (b *baseStore) exec(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (b *baseStore) SaveSamples(ctx context.Context, samples []model.Sample) error {
	if b.db == nil || len(samples) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO samples (ts, group_id, member_id, signal_type, value_kind, value_num, value_text)
		VALUES (`+b.placeholders(1, 7)+`)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, s := range samples {
		kind, num, text := encodeValue(s.Value)
		if _, err := stmt.ExecContext(ctx,
			b.dialect.timeArg(s.Timestamp),
			int64(s.GroupID),
			int64(s.MemberID),
			s.SignalType,
			kind,
			num,
			text,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert sample: %w", err)
		}
	}
	return tx.Commit()
}

// QuerySamples returns matching samples in insertion order, which keeps the
// extractor's tie-break on equal timestamps stable across reads.
func (b *baseStore) QuerySamples(ctx context.Context, q SampleQuery) ([]model.Sample, error) {
	if b.db == nil {
		return nil, nil
	}
	var where []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, b.dialect.placeholder(len(args))))
	}
	add("group_id = %s", int64(q.GroupID))
	add("member_id = %s", int64(q.MemberID))
	if !q.Start.IsZero() {
		add("ts >= %s", b.dialect.timeArg(q.Start))
	}
	if !q.End.IsZero() {
		add("ts < %s", b.dialect.timeArg(q.End))
	}
	if len(q.SignalTypes) > 0 {
		for _, s := range q.SignalTypes {
			args = append(args, s)
		}
		where = append(where, "signal_type IN ("+b.placeholders(len(args)-len(q.SignalTypes)+1, len(q.SignalTypes))+")")
	}
	query := `SELECT ts, group_id, member_id, signal_type, value_kind, value_num, value_text FROM samples WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY id`
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Sample, 0)
	for rows.Next() {
		var (
			ts       any
			groupID  int64
			memberID int64
			signal   string
			kind     string
			num      sql.NullFloat64
			text     sql.NullString
		)
		if err := rows.Scan(&ts, &groupID, &memberID, &signal, &kind, &num, &text); err != nil {
			return nil, err
		}
		parsed, err := decodeTime(ts)
		if err != nil {
			return nil, err
		}
		value, err := decodeValue(kind, num, text)
		if err != nil {
			return nil, err
		}
		out = append(out, model.Sample{
			Timestamp:  parsed,
			GroupID:    uint64(groupID),
			MemberID:   uint64(memberID),
			SignalType: signal,
			Value:      value,
		})
	}
	return out, rows.Err()
}

func (b *baseStore) SaveReport(ctx context.Context, report model.Report) error {
	if b.db == nil {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO reports (run_id, generated_at, interval_count, alert_count) VALUES (`+b.placeholders(1, 4)+`)`,
		report.RunID,
		b.dialect.timeArg(report.GeneratedAt),
		len(report.Intervals),
		len(report.Alerts),
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert report: %w", err)
	}
	for _, table := range []struct {
		name string
		list []model.Interval
	}{
		{"intervals", report.Intervals},
		{"alerts", report.Alerts},
	} {
		if err := b.insertIntervals(ctx, tx, table.name, report.RunID, table.list); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (b *baseStore) insertIntervals(ctx context.Context, tx *sql.Tx, table, runID string, list []model.Interval) error {
	if len(list) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO `+table+` (run_id, group_id, member_id, signal_type, value_kind, value_num, value_text, start_ts, end_ts)
		VALUES (`+b.placeholders(1, 9)+`)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, iv := range list {
		kind, num, text := encodeValue(iv.Value)
		var end any
		if iv.End != nil {
			end = b.dialect.timeArg(*iv.End)
		}
		if _, err := stmt.ExecContext(ctx,
			runID,
			int64(iv.GroupID),
			int64(iv.MemberID),
			iv.SignalType,
			kind,
			num,
			text,
			b.dialect.timeArg(iv.Start),
			end,
		); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return nil
}

func encodeValue(v model.Value) (string, sql.NullFloat64, sql.NullString) {
	if f, ok := v.AsNumber(); ok {
		return model.KindNumber.String(), sql.NullFloat64{Float64: f, Valid: true}, sql.NullString{}
	}
	if s, ok := v.AsText(); ok {
		return model.KindText.String(), sql.NullFloat64{}, sql.NullString{String: s, Valid: true}
	}
	return model.KindInvalid.String(), sql.NullFloat64{}, sql.NullString{}
}

func decodeValue(kind string, num sql.NullFloat64, text sql.NullString) (model.Value, error) {
	switch kind {
	case model.KindNumber.String():
		return model.Number(num.Float64), nil
	case model.KindText.String():
		return model.Text(text.String), nil
	default:
		return model.Value{}, fmt.Errorf("unknown value kind %q", kind)
	}
}

// timeLayout is fixed width so text timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func decodeTime(v any) (time.Time, error) {
	switch ts := v.(type) {
	case time.Time:
		return ts.UTC(), nil
	case string:
		return time.Parse(time.RFC3339Nano, ts)
	case []byte:
		return time.Parse(time.RFC3339Nano, string(ts))
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
	}
}
