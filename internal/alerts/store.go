package alerts

import (
	"sync"
	"time"

	"evguard/internal/model"
)

// Store is a fixed-size ring of the most recent alerts, kept for the operator console.
type Store struct {
	mu    sync.RWMutex
	ring  []model.AlertRecord
	next  int
	full  bool
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{ring: make([]model.AlertRecord, limit), limit: limit}
}

func (s *Store) Add(alert model.AlertRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring[s.next] = alert
	s.next = (s.next + 1) % s.limit
	if s.next == 0 {
		s.full = true
	}
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lenLocked()
}

func (s *Store) lenLocked() int {
	if s.full {
		return s.limit
	}
	return s.next
}

// ordered returns the ring contents oldest-first.
func (s *Store) ordered() []model.AlertRecord {
	n := s.lenLocked()
	out := make([]model.AlertRecord, 0, n)
	start := 0
	if s.full {
		start = s.next
	}
	for i := 0; i < n; i++ {
		out = append(out, s.ring[(start+i)%s.limit])
	}
	return out
}

// Filter selects alerts for List. Zero fields match everything.
type Filter struct {
	Limit  int
	Since  time.Time
	RuleID model.RuleID
	Key    string
}

// List returns matching alerts oldest-first, keeping only the newest Limit entries.
func (s *Store) List(f Filter) []model.AlertRecord {
	s.mu.RLock()
	all := s.ordered()
	s.mu.RUnlock()

	out := all[:0]
	for _, a := range all {
		if !f.Since.IsZero() && a.ObservedAt.Before(f.Since) {
			continue
		}
		if f.RuleID != "" && a.RuleID != f.RuleID {
			continue
		}
		if f.Key != "" && a.Key != f.Key {
			continue
		}
		out = append(out, a)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring = make([]model.AlertRecord, s.limit)
	s.next = 0
	s.full = false
}
