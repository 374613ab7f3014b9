// Package intervals turns a batch of samples into constant-value intervals
// per entity and signal, and selects the ones that should alert.
package intervals

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"statereport/internal/model"
)

type groupKey struct {
	groupID    uint64
	memberID   uint64
	signalType string
}

func (k groupKey) less(o groupKey) bool {
	if k.groupID != o.groupID {
		return k.groupID < o.groupID
	}
	if k.memberID != o.memberID {
		return k.memberID < o.memberID
	}
	return k.signalType < o.signalType
}

// Extract groups samples by (group, member, signal type), orders each group
// by timestamp and emits one interval per run of equal values. The last
// interval of each group stays open. The second result holds the intervals
// selected by IsAlertable.
//
// Samples sharing a timestamp within a group keep their input order. Output
// is ordered by group key and start time, independent of how groups were
// interleaved in the input.
func Extract(samples []model.Sample, alertStates model.ValueSet, includeWarnings bool) ([]model.Interval, []model.Interval, error) {
	all := make([]model.Interval, 0)
	alerts := make([]model.Interval, 0)
	if len(samples) == 0 {
		return all, alerts, nil
	}

	groups := make(map[groupKey][]model.Sample)
	kinds := make(map[groupKey]model.ValueKind)
	for i, s := range samples {
		if err := validateSample(s); err != nil {
			return nil, nil, &InvalidInputError{Index: i, Reason: err.Error()}
		}
		key := groupKey{groupID: s.GroupID, memberID: s.MemberID, signalType: s.SignalType}
		if kind, ok := kinds[key]; ok && kind != s.Value.Kind() {
			return nil, nil, &InvalidInputError{
				Index: i,
				Reason: fmt.Sprintf("%s value %q mixed with %s values for %d/%d %q",
					s.Value.Kind(), s.Value.String(), kind, s.GroupID, s.MemberID, s.SignalType),
			}
		}
		kinds[key] = s.Value.Kind()
		groups[key] = append(groups[key], s)
	}

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })

	for _, key := range keys {
		all = appendGroupIntervals(all, key, groups[key])
	}
	for _, iv := range all {
		if IsAlertable(iv.SignalType, iv.Value, includeWarnings, alertStates) {
			alerts = append(alerts, iv)
		}
	}
	return all, alerts, nil
}

func appendGroupIntervals(out []model.Interval, key groupKey, group []model.Sample) []model.Interval {
	sort.SliceStable(group, func(i, j int) bool {
		return group[i].Timestamp.Before(group[j].Timestamp)
	})
	var current *model.Interval
	for _, s := range group {
		if current != nil && current.Value.Equal(s.Value) {
			continue
		}
		if current != nil {
			end := s.Timestamp
			current.End = &end
			out = append(out, *current)
		}
		current = &model.Interval{
			GroupID:    key.groupID,
			MemberID:   key.memberID,
			SignalType: key.signalType,
			Value:      s.Value,
			Start:      s.Timestamp,
		}
	}
	if current != nil {
		out = append(out, *current)
	}
	return out
}

func validateSample(s model.Sample) error {
	if s.Timestamp.IsZero() {
		return errors.New("missing timestamp")
	}
	if s.SignalType == "" {
		return errors.New("missing signal type")
	}
	if !s.Value.IsValid() {
		return errors.New("missing value")
	}
	if f, ok := s.Value.AsNumber(); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return fmt.Errorf("non-finite value %v", f)
	}
	return nil
}
