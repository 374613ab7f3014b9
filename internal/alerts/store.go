package alerts

import (
	"sync"
	"time"

	"statereport/internal/model"
)

// Store is a bounded buffer of the most recent alert records. A record is
// identified by entity, signal type, value and start time, so an alert that
// was open in one batch and closed in a later one is updated in place
// instead of listed twice. The oldest record is dropped once the limit is
// reached.
type Store struct {
	mu    sync.RWMutex
	buf   []model.Interval
	limit int
}

// Filter narrows a Query. Zero fields match everything.
type Filter struct {
	Entity     *model.Entity
	SignalType string
	OpenOnly   bool
	Since      time.Time
}

func (f Filter) match(a model.Interval) bool {
	if f.Entity != nil && a.Entity() != *f.Entity {
		return false
	}
	if f.SignalType != "" && a.SignalType != f.SignalType {
		return false
	}
	if f.OpenOnly && !a.IsOpen() {
		return false
	}
	if !f.Since.IsZero() && a.Start.Before(f.Since) {
		return false
	}
	return true
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func sameAlert(a, b model.Interval) bool {
	return a.Entity() == b.Entity() &&
		a.SignalType == b.SignalType &&
		a.Value.Equal(b.Value) &&
		a.Start.Equal(b.Start)
}

func (s *Store) Add(alert model.Interval) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.buf) - 1; i >= 0; i-- {
		if sameAlert(s.buf[i], alert) {
			s.buf[i] = alert
			return
		}
	}
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, alert)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = alert
}

// List returns the newest limit records, oldest first. limit <= 0 returns
// everything.
func (s *Store) List(limit int) []model.Interval {
	return s.Query(Filter{}, limit)
}

// Query returns the newest limit records matching f, oldest first.
func (s *Store) Query(f Filter, limit int) []model.Interval {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Interval, 0)
	for i := len(s.buf) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if f.match(s.buf[i]) {
			out = append(out, s.buf[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
