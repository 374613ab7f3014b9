package ingest

import (
	"encoding/csv"
	"regexp"
	"strings"

	"statereport/internal/normalize"
)

var (
	reTimestamp = regexp.MustCompile(`^\s*([0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9:.+-Z]+)`)
	reKV        = regexp.MustCompile(`(?i)([a-zA-Z_]+)=("[^"]*"|[^\s]+)`)
)

var (
	timestampKeys = []string{"timestamp", "time", "ts"}
	groupKeys     = []string{"group_id", "microgrid_id", "group", "microgrid"}
	memberKeys    = []string{"member_id", "component_id", "member", "component"}
	signalKeys    = []string{"signal_type", "state_type", "metric", "signal"}
	valueKeys     = []string{"value", "state_value"}
)

// Parser turns one input line into sample fields. It accepts JSON objects,
// CSV rows (with an optional header row) and key=value text. A Parser keeps
// the CSV header it has seen, so use one per input stream.
type Parser struct {
	csv *CSVParser
}

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

// ParseLine returns nil fields for blank lines, comments and CSV headers.
func (p *Parser) ParseLine(line string) (*normalize.SampleFields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" || strings.HasPrefix(trim, "#") {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		fields, err := ParseJSONBytes([]byte(trim))
		if err != nil {
			return nil, err
		}
		fields.Raw = line
		return fields, nil
	}
	if strings.Contains(trim, ",") && !strings.Contains(trim, "=") {
		fields, err := p.csv.Parse(trim)
		if err != nil {
			return nil, err
		}
		if fields == nil {
			return nil, nil
		}
		fields.Raw = line
		return fields, nil
	}
	fields := parsePlain(trim)
	fields.Raw = line
	return fields, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func parsePlain(line string) *normalize.SampleFields {
	fields := &normalize.SampleFields{Extras: map[string]string{}}
	fields.Timestamp = extractTimestamp(line)

	kv := map[string]string{}
	quoted := map[string]bool{}
	for _, match := range reKV.FindAllStringSubmatch(line, -1) {
		key := strings.ToLower(match[1])
		val := match[2]
		if len(val) >= 2 && strings.HasPrefix(val, `"`) && strings.HasSuffix(val, `"`) {
			val = val[1 : len(val)-1]
			quoted[key] = true
		}
		kv[key] = val
	}
	if fields.Timestamp == "" {
		fields.Timestamp = firstNonEmpty(kv, timestampKeys...)
	}
	fields.GroupID = firstNonEmpty(kv, groupKeys...)
	fields.MemberID = firstNonEmpty(kv, memberKeys...)
	fields.SignalType = firstNonEmpty(kv, signalKeys...)
	for _, k := range valueKeys {
		if v, ok := kv[k]; ok {
			fields.Value = v
			fields.ValueIsText = quoted[k]
			break
		}
	}
	for k, v := range kv {
		fields.Extras[k] = v
	}
	return fields
}

func extractTimestamp(line string) string {
	m := reTimestamp.FindStringSubmatchIndex(line)
	if len(m) >= 4 {
		return strings.TrimSpace(line[m[2]:m[3]])
	}
	return ""
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}

type CSVParser struct {
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

func (p *CSVParser) Parse(line string) (*normalize.SampleFields, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	quoted := quotedFields(line)
	if len(record) == 0 {
		return nil, nil
	}
	if p.header == nil && looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		return nil, nil
	}
	fields := &normalize.SampleFields{Extras: map[string]string{}}
	names := p.header
	if names == nil {
		names = []string{"timestamp", "group_id", "member_id", "signal_type", "value"}
	}
	for i, name := range names {
		if i >= len(record) {
			break
		}
		assignField(fields, name, record[i], i < len(quoted) && quoted[i])
	}
	return fields, nil
}

// quotedFields reports, per field of a single CSV record, whether the field
// was written as a quoted string. encoding/csv drops that distinction, and a
// quoted value must stay text.
func quotedFields(line string) []bool {
	var out []bool
	inQuotes, atStart, quoted := false, true, false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case inQuotes:
			if c == '"' {
				if i+1 < len(line) && line[i+1] == '"' {
					i++
					continue
				}
				inQuotes = false
			}
		case c == ',':
			out = append(out, quoted)
			atStart, quoted = true, false
		case atStart && (c == ' ' || c == '\t'):
		case atStart && c == '"':
			inQuotes, quoted, atStart = true, true, false
		default:
			atStart = false
		}
	}
	return append(out, quoted)
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		v = strings.ToLower(strings.TrimSpace(v))
		for _, keys := range [][]string{timestampKeys, groupKeys, memberKeys, signalKeys, valueKeys} {
			for _, k := range keys {
				if v == k {
					return true
				}
			}
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func assignField(fields *normalize.SampleFields, name string, value string, quoted bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	value = strings.TrimSpace(value)
	switch {
	case contains(timestampKeys, name):
		fields.Timestamp = value
	case contains(groupKeys, name):
		fields.GroupID = value
	case contains(memberKeys, name):
		fields.MemberID = value
	case contains(signalKeys, name):
		fields.SignalType = value
	case contains(valueKeys, name):
		fields.Value = value
		fields.ValueIsText = quoted
	default:
		if fields.Extras != nil {
			fields.Extras[name] = value
		}
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
