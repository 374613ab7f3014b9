package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"statereport/internal/config"
	"statereport/internal/model"
)

// SampleFields holds the raw text of one parsed input record.
type SampleFields struct {
	Timestamp  string
	GroupID    string
	MemberID   string
	SignalType string
	Value      string
	// ValueIsText is set when the source carried the value as a quoted string.
	ValueIsText bool
	Extras      map[string]string
	Raw         string
}

func Normalize(fields SampleFields, cfg *config.Config) (model.Sample, error) {
	groupID, err := ParseID(fields.GroupID)
	if err != nil {
		return model.Sample{}, fmt.Errorf("group_id: %w", err)
	}
	memberID, err := ParseID(fields.MemberID)
	if err != nil {
		return model.Sample{}, fmt.Errorf("member_id: %w", err)
	}
	signal := strings.TrimSpace(fields.SignalType)
	if signal == "" {
		return model.Sample{}, errors.New("signal_type: empty")
	}

	loc := time.UTC
	if cfg != nil && cfg.Ingest.Parser.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Ingest.Parser.Timezone); err == nil {
			loc = l
		}
	}
	ts, err := ParseTimestamp(fields.Timestamp, loc)
	if err != nil {
		return model.Sample{}, fmt.Errorf("parse timestamp: %w", err)
	}

	value, err := ParseValue(fields.Value, fields.ValueIsText)
	if err != nil {
		return model.Sample{}, err
	}

	return model.Sample{
		Timestamp:  ts.UTC(),
		GroupID:    groupID,
		MemberID:   memberID,
		SignalType: signal,
		Value:      value,
	}, nil
}

func ParseID(value string) (uint64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, errors.New("empty")
	}
	id, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		// JSON numbers arrive formatted as floats, e.g. "101" or "1.01e+02".
		f, ferr := strconv.ParseFloat(value, 64)
		if ferr != nil || f < 0 || f != float64(uint64(f)) {
			return 0, fmt.Errorf("not an unsigned integer: %q", value)
		}
		return uint64(f), nil
	}
	return id, nil
}

// ParseValue turns a raw token into a Value. Quoted strings stay text; bare
// tokens that parse as numbers become numbers. Bare NaN, Inf and
// out-of-range numerals are rejected since they compare unequal to
// themselves or cannot be encoded.
func ParseValue(raw string, isText bool) (model.Value, error) {
	if isText {
		return model.Text(raw), nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return model.Value{}, errors.New("value: empty")
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return model.Number(f), nil
	}
	if err == nil || errors.Is(err, strconv.ErrRange) {
		return model.Value{}, fmt.Errorf("value: %q is not a finite number", raw)
	}
	return model.Text(raw), nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02 15:04:05.999999999-07:00",
}

// ParseTimestamp accepts RFC3339 variants, zone-less layouts interpreted in
// loc, and unix seconds, milliseconds or nanoseconds with an optional
// fractional part.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isUnixNumber(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isUnixNumber(value string) bool {
	dots := 0
	for _, ch := range value {
		if ch == '.' {
			dots++
			continue
		}
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0 && dots <= 1 && value[0] != '.'
}

func parseUnix(value string) (time.Time, error) {
	whole, frac, _ := strings.Cut(value, ".")
	n, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	switch {
	case len(whole) >= 19:
		return time.Unix(0, n).UTC(), nil
	case len(whole) >= 13:
		return time.Unix(0, n*int64(time.Millisecond)).UTC(), nil
	}
	var nanos int64
	if frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		frac += strings.Repeat("0", 9-len(frac))
		nanos, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
	}
	return time.Unix(n, nanos).UTC(), nil
}
