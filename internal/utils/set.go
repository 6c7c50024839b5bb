package utils

import (
	"sync"
	"time"
)

const minSizeSet = 128

const defaultMaxEntries = 1000

// TTLSet is a concurrency-safe set that remembers when each key was
// added. It backs at-most-once update processing: Add reports whether
// the key was absent, a full set evicts its oldest entry, and
// SweepBefore drops aged keys in bulk.
type TTLSet[T comparable] struct {
	mu  sync.RWMutex
	m   map[T]time.Time
	max int
}

func NewTTLSet[T comparable](maxEntries int) *TTLSet[T] {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &TTLSet[T]{m: make(map[T]time.Time, minSizeSet), max: maxEntries}
}

// Add inserts key and reports whether it was new. When the set is at
// capacity the oldest entry is evicted first.
func (s *TTLSet[T]) Add(key T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[key]; ok {
		return false
	}
	if len(s.m) >= s.max {
		var (
			oldestKey T
			oldest    time.Time
			first     = true
		)
		for k, t := range s.m {
			if first || t.Before(oldest) {
				oldestKey, oldest, first = k, t, false
			}
		}
		delete(s.m, oldestKey)
	}
	s.m[key] = time.Now()
	return true
}

func (s *TTLSet[T]) Has(key T) bool {
	s.mu.RLock()
	_, ok := s.m[key]
	s.mu.RUnlock()
	return ok
}

func (s *TTLSet[T]) Len() int {
	s.mu.RLock()
	c := len(s.m)
	s.mu.RUnlock()
	return c
}

// SweepBefore drops every key added before cutoff and returns how
// many were removed.
func (s *TTLSet[T]) SweepBefore(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var dropped int
	for k, t := range s.m {
		if t.Before(cutoff) {
			delete(s.m, k)
			dropped++
		}
	}
	return dropped
}
