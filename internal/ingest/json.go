package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"statereport/internal/normalize"
)

func ParseJSONBytes(data []byte) (*normalize.SampleFields, error) {
	var obj map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj)
}

// DecodeJSONSamples accepts a single JSON object or an array of objects.
func DecodeJSONSamples(data []byte) ([]*normalize.SampleFields, error) {
	trim := bytes.TrimSpace(data)
	if len(trim) == 0 {
		return nil, errors.New("empty body")
	}
	if trim[0] != '[' {
		fields, err := ParseJSONBytes(trim)
		if err != nil {
			return nil, err
		}
		return []*normalize.SampleFields{fields}, nil
	}
	var list []map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(trim))
	dec.UseNumber()
	if err := dec.Decode(&list); err != nil {
		return nil, err
	}
	out := make([]*normalize.SampleFields, 0, len(list))
	for i, obj := range list {
		fields, err := ParseJSONMap(obj)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, fields)
	}
	return out, nil
}

// ParseJSONMap maps a decoded JSON object onto sample fields. A string value
// stays text and a number stays numeric; any other JSON type for the value
// is rejected rather than coerced.
func ParseJSONMap(obj map[string]interface{}) (*normalize.SampleFields, error) {
	fields := &normalize.SampleFields{Extras: map[string]string{}}
	raw := map[string]interface{}{}
	for key, val := range obj {
		key = strings.ToLower(key)
		raw[key] = val
		if val == nil {
			continue
		}
		fields.Extras[key] = fmt.Sprint(val)
	}
	fields.Timestamp = firstNonEmpty(fields.Extras, timestampKeys...)
	fields.GroupID = firstNonEmpty(fields.Extras, groupKeys...)
	fields.MemberID = firstNonEmpty(fields.Extras, memberKeys...)
	fields.SignalType = firstNonEmpty(fields.Extras, signalKeys...)
	for _, k := range valueKeys {
		val, ok := raw[k]
		if !ok || val == nil {
			continue
		}
		switch v := val.(type) {
		case string:
			fields.Value = v
			fields.ValueIsText = true
		case json.Number:
			fields.Value = v.String()
		case float64:
			fields.Value = strconv.FormatFloat(v, 'g', -1, 64)
		default:
			return nil, fmt.Errorf("%s: value must be a number or string, got %T", k, val)
		}
		break
	}
	return fields, nil
}
