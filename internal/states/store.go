// Package states keeps the most recent timeline extracted for each entity.
package states

import (
	"sort"
	"sync"
	"time"

	"statereport/internal/model"
)

type Store struct {
	mu        sync.RWMutex
	byEntity  map[model.Entity][]model.Interval
	updatedAt map[model.Entity]time.Time
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		byEntity:  make(map[model.Entity][]model.Interval),
		updatedAt: make(map[model.Entity]time.Time),
		limit:     limit,
	}
}

// Record replaces the timeline of every entity present in intervals.
// Entities absent from the batch keep their previous timeline.
func (s *Store) Record(intervals []model.Interval) {
	grouped := make(map[model.Entity][]model.Interval)
	for _, iv := range intervals {
		grouped[iv.Entity()] = append(grouped[iv.Entity()], iv)
	}
	for entity, list := range grouped {
		s.Update(entity, list)
	}
}

func (s *Store) Update(entity model.Entity, intervals []model.Interval) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byEntity[entity] = append([]model.Interval(nil), intervals...)
	s.updatedAt[entity] = time.Now().UTC()
	if len(s.byEntity) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(entity model.Entity) ([]model.Interval, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list, ok := s.byEntity[entity]
	if !ok {
		return nil, time.Time{}, false
	}
	return append([]model.Interval(nil), list...), s.updatedAt[entity], true
}

// GetAll returns every timeline keyed by "group/member".
func (s *Store) GetAll() map[string][]model.Interval {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]model.Interval, len(s.byEntity))
	for entity, list := range s.byEntity {
		out[entity.String()] = append([]model.Interval(nil), list...)
	}
	return out
}

// Current returns the open intervals of an entity, i.e. the values each of
// its signals holds right now, ordered by signal type.
func (s *Store) Current(entity model.Entity) []model.Interval {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Interval, 0)
	for _, iv := range s.byEntity[entity] {
		if iv.IsOpen() {
			out = append(out, iv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SignalType < out[j].SignalType })
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byEntity)
}

func (s *Store) evictOldest() {
	var oldestEntity model.Entity
	var oldest time.Time
	found := false
	for entity, ts := range s.updatedAt {
		if !found || ts.Before(oldest) {
			oldestEntity = entity
			oldest = ts
			found = true
		}
	}
	if found {
		delete(s.byEntity, oldestEntity)
		delete(s.updatedAt, oldestEntity)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byEntity = make(map[model.Entity][]model.Interval)
	s.updatedAt = make(map[model.Entity]time.Time)
}
