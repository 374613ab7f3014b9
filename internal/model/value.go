package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"gopkg.in/yaml.v3"
)

type ValueKind uint8

const (
	KindInvalid ValueKind = iota
	KindNumber
	KindText
)

func (k ValueKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	default:
		return "invalid"
	}
}

// Value is a sample value: either a number or a text token. Values are
// comparable with == and never coerce between kinds, so Number(1) differs
// from Text("1").
type Value struct {
	kind ValueKind
	num  float64
	text string
}

func Number(v float64) Value {
	return Value{kind: KindNumber, num: v}
}

func Int(v int64) Value {
	return Value{kind: KindNumber, num: float64(v)}
}

func Text(s string) Value {
	return Value{kind: KindText, text: s}
}

func (v Value) Kind() ValueKind {
	return v.kind
}

func (v Value) IsValid() bool {
	return v.kind != KindInvalid
}

func (v Value) AsNumber() (float64, bool) {
	return v.num, v.kind == KindNumber
}

func (v Value) AsText() (string, bool) {
	return v.text, v.kind == KindText
}

func (v Value) Equal(o Value) bool {
	return v == o
}

func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindText:
		return v.text
	default:
		return "<invalid>"
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		return json.Marshal(v.num)
	case KindText:
		return json.Marshal(v.text)
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Value{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("value must be a number or string: %w", err)
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("value must be a number or string: %w", err)
	}
	*v = Number(f)
	return nil
}

func (v Value) MarshalYAML() (interface{}, error) {
	switch v.kind {
	case KindNumber:
		return v.num, nil
	case KindText:
		return v.text, nil
	default:
		return nil, nil
	}
}

func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: value must be a scalar", node.Line)
	}
	switch node.ShortTag() {
	case "!!null":
		*v = Value{}
	case "!!int", "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("line %d: value %s is not a finite number", node.Line, node.Value)
		}
		*v = Number(f)
	default:
		*v = Text(node.Value)
	}
	return nil
}

// ValueSet is a set of values, e.g. the state codes that raise an alert.
type ValueSet map[Value]struct{}

func NewValueSet(values ...Value) ValueSet {
	set := make(ValueSet, len(values))
	for _, v := range values {
		if !v.IsValid() {
			continue
		}
		set[v] = struct{}{}
	}
	return set
}

func (s ValueSet) Contains(v Value) bool {
	if s == nil {
		return false
	}
	_, ok := s[v]
	return ok
}
