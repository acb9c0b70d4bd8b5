package metrics

import (
	"container/list"
	"sort"
	"sync"
	"time"

	"evguard/internal/model"
)

// Store keeps the latest published state per detector key for the operator API. Detectors push
// copies here; nothing in this package reads detector-owned maps. Once limit keys are held the
// least recently updated key is dropped, in constant time.
type Store struct {
	mu    sync.RWMutex
	byKey map[string]*list.Element
	lru   *list.List
	limit int
}

type entry struct {
	key       string
	state     model.KeyState
	updatedAt time.Time
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		byKey: make(map[string]*list.Element),
		lru:   list.New(),
		limit: limit,
	}
}

func storeKey(stream model.Stream, key string) string {
	return string(stream) + "|" + key
}

func (s *Store) Update(state model.KeyState) {
	if s == nil || state.Key == "" {
		return
	}
	k := storeKey(state.Stream, state.Key)
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.byKey[k]; ok {
		e := el.Value.(*entry)
		e.state = state
		e.updatedAt = now
		s.lru.MoveToFront(el)
		return
	}
	s.byKey[k] = s.lru.PushFront(&entry{key: k, state: state, updatedAt: now})
	for s.lru.Len() > s.limit {
		oldest := s.lru.Back()
		s.lru.Remove(oldest)
		delete(s.byKey, oldest.Value.(*entry).key)
	}
}

func (s *Store) Get(stream model.Stream, key string) (model.KeyState, time.Time, bool) {
	if s == nil {
		return model.KeyState{}, time.Time{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	el, ok := s.byKey[storeKey(stream, key)]
	if !ok {
		return model.KeyState{}, time.Time{}, false
	}
	e := el.Value.(*entry)
	return e.state, e.updatedAt, true
}

// List returns all states, optionally filtered by stream, ordered by stream then key.
func (s *Store) List(stream model.Stream) []model.KeyState {
	if s == nil {
		return []model.KeyState{}
	}
	s.mu.RLock()
	out := make([]model.KeyState, 0, len(s.byKey))
	for el := s.lru.Front(); el != nil; el = el.Next() {
		st := el.Value.(*entry).state
		if stream != "" && st.Stream != stream {
			continue
		}
		out = append(out, st)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stream != out[j].Stream {
			return out[i].Stream < out[j].Stream
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lru.Len()
}

func (s *Store) Clear() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey = make(map[string]*list.Element)
	s.lru.Init()
}
