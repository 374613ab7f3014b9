package normalize

import (
	"testing"
	"time"

	"statereport/internal/config"
	"statereport/internal/model"
)

func TestNormalize(t *testing.T) {
	cfg := config.DefaultConfig()
	s, err := Normalize(SampleFields{
		Timestamp:  "2023-01-02T00:30:00.123456789Z",
		GroupID:    "3",
		MemberID:   "303",
		SignalType: " warning ",
		Value:      "W1",
	}, cfg)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	want := time.Date(2023, 1, 2, 0, 30, 0, 123456789, time.UTC)
	if !s.Timestamp.Equal(want) {
		t.Fatalf("timestamp: %s", s.Timestamp)
	}
	if s.GroupID != 3 || s.MemberID != 303 || s.SignalType != model.SignalWarning || s.Value != model.Text("W1") {
		t.Fatalf("unexpected sample: %+v", s)
	}
}

func TestNormalizeRejectsMissingIdentity(t *testing.T) {
	cfg := config.DefaultConfig()
	base := SampleFields{Timestamp: "2023-01-01T00:00:00Z", GroupID: "1", MemberID: "2", SignalType: "state", Value: "0"}
	missingGroup := base
	missingGroup.GroupID = ""
	negative := base
	negative.MemberID = "-4"
	noSignal := base
	noSignal.SignalType = ""
	noValue := base
	noValue.Value = " "
	noTime := base
	noTime.Timestamp = ""
	for i, f := range []SampleFields{missingGroup, negative, noSignal, noValue, noTime} {
		if _, err := Normalize(f, cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestParseValue(t *testing.T) {
	cases := []struct {
		raw    string
		isText bool
		want   model.Value
	}{
		{"1", false, model.Int(1)},
		{" 2.50 ", false, model.Number(2.5)},
		{"E1", false, model.Text("E1")},
		{"1", true, model.Text("1")},
		{"", true, model.Text("")},
	}
	for _, tc := range cases {
		got, err := ParseValue(tc.raw, tc.isText)
		if err != nil {
			t.Fatalf("ParseValue(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("ParseValue(%q, %v) = %v, want %v", tc.raw, tc.isText, got, tc.want)
		}
	}
}

func TestParseValueRejectsNonFinite(t *testing.T) {
	for _, raw := range []string{"NaN", "nan", "Inf", "-inf", "+Infinity", "1e400"} {
		if v, err := ParseValue(raw, false); err == nil {
			t.Fatalf("ParseValue(%q) = %v, expected error", raw, v)
		}
	}
	if v, err := ParseValue("NaN", true); err != nil || v != model.Text("NaN") {
		t.Fatalf("quoted NaN must stay text, got %v %v", v, err)
	}
}

func TestParseID(t *testing.T) {
	if id, err := ParseID("1.01e+02"); err != nil || id != 101 {
		t.Fatalf("float formatted id: %d %v", id, err)
	}
	if _, err := ParseID("1.5"); err == nil {
		t.Fatalf("expected fractional id to fail")
	}
}

func TestParseTimestamp(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	cases := []struct {
		in   string
		loc  *time.Location
		want time.Time
	}{
		{"2023-01-01T01:00:00Z", time.UTC, time.Date(2023, 1, 1, 1, 0, 0, 0, time.UTC)},
		{"2023-01-01 01:00:00", berlin, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"2023-01-01 01:00:00.5", time.UTC, time.Date(2023, 1, 1, 1, 0, 0, 500000000, time.UTC)},
		{"1672531200", time.UTC, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"1672531200.25", time.UTC, time.Date(2023, 1, 1, 0, 0, 0, 250000000, time.UTC)},
		{"1672531200123", time.UTC, time.Date(2023, 1, 1, 0, 0, 0, 123000000, time.UTC)},
		{"1672531200000000001", time.UTC, time.Date(2023, 1, 1, 0, 0, 0, 1, time.UTC)},
	}
	for _, tc := range cases {
		got, err := ParseTimestamp(tc.in, tc.loc)
		if err != nil {
			t.Fatalf("ParseTimestamp(%q): %v", tc.in, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("ParseTimestamp(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
	if _, err := ParseTimestamp("yesterday", time.UTC); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}
