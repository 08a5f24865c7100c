package state

import (
	"sync"
	"time"
)

// ModeStore keeps the last emitted value per key. Callers compare with
// HasChanged before emitting and record the value with Update only after the
// emit succeeded, so a failed emit is retried on the next cycle.
type ModeStore interface {
	GetLast(key string) (value int, sentAt time.Time, ok bool)
	HasChanged(key string, value int) bool
	Update(key string, value int)
	Clear()
}

type modeStore struct {
	store  map[string]int
	sentAt map[string]time.Time
	mu     sync.RWMutex
}

func NewModeStore() ModeStore {
	return &modeStore{
		store:  make(map[string]int),
		sentAt: make(map[string]time.Time),
	}
}

func (s *modeStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = make(map[string]int)
	s.sentAt = make(map[string]time.Time)
}

func (s *modeStore) GetLast(key string) (int, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.store[key]
	return value, s.sentAt[key], ok
}

func (s *modeStore) Update(key string, value int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store[key] = value
	s.sentAt[key] = time.Now()
}

// HasChanged reports true for a key that was never recorded.
func (s *modeStore) HasChanged(key string, value int) bool {
	last, _, ok := s.GetLast(key)
	if !ok {
		return true
	}
	return last != value
}
