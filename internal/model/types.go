package model

import (
	"strconv"
	"time"
)

const (
	SignalState   = "state"
	SignalWarning = "warning"
	SignalError   = "error"
)

// Entity identifies a monitored unit, e.g. a microgrid and one of its components.
type Entity struct {
	GroupID  uint64 `json:"group_id"`
	MemberID uint64 `json:"member_id"`
}

func (e Entity) String() string {
	return strconv.FormatUint(e.GroupID, 10) + "/" + strconv.FormatUint(e.MemberID, 10)
}

type Sample struct {
	Timestamp  time.Time `json:"timestamp"`
	GroupID    uint64    `json:"group_id"`
	MemberID   uint64    `json:"member_id"`
	SignalType string    `json:"signal_type"`
	Value      Value     `json:"value"`
}

func (s Sample) Entity() Entity {
	return Entity{GroupID: s.GroupID, MemberID: s.MemberID}
}

// Interval is a maximal span during which one entity's signal held a constant
// value. End is nil while the value is still current.
type Interval struct {
	GroupID    uint64     `json:"group_id"`
	MemberID   uint64     `json:"member_id"`
	SignalType string     `json:"signal_type"`
	Value      Value      `json:"value"`
	Start      time.Time  `json:"start_time"`
	End        *time.Time `json:"end_time"`
}

func (i Interval) Entity() Entity {
	return Entity{GroupID: i.GroupID, MemberID: i.MemberID}
}

func (i Interval) IsOpen() bool {
	return i.End == nil
}

// Duration returns the length of the interval, measuring open intervals up to now.
func (i Interval) Duration(now time.Time) time.Duration {
	if i.End != nil {
		return i.End.Sub(i.Start)
	}
	if now.Before(i.Start) {
		return 0
	}
	return now.Sub(i.Start)
}

// Equal compares intervals by field tuple.
func (i Interval) Equal(o Interval) bool {
	if i.GroupID != o.GroupID || i.MemberID != o.MemberID || i.SignalType != o.SignalType {
		return false
	}
	if !i.Value.Equal(o.Value) || !i.Start.Equal(o.Start) {
		return false
	}
	if i.End == nil || o.End == nil {
		return i.End == nil && o.End == nil
	}
	return i.End.Equal(*o.End)
}

type Report struct {
	RunID       string     `json:"run_id"`
	GeneratedAt time.Time  `json:"generated_at"`
	Intervals   []Interval `json:"intervals"`
	Alerts      []Interval `json:"alerts"`
}
