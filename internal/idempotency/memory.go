package idempotency

import (
	"context"
	"sync"
	"time"
)

// sweepEvery bounds how often SetIfAbsent scans for lapsed records
const sweepEvery = 1024

// MemoryStore keeps dedup records in process memory. It is created once at
// startup and lives until exit; records are lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]time.Time
	writes  int
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]time.Time),
		now:     time.Now,
	}
}

// SetIfAbsent implements Store
func (s *MemoryStore) SetIfAbsent(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expiry, ok := s.records[key]; ok && expiry.After(now) {
		return false, nil
	}

	s.records[key] = now.Add(ttl)
	s.writes++
	if s.writes%sweepEvery == 0 {
		s.sweep(now)
	}
	return true, nil
}

// Len returns the number of records held, lapsed ones included
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// sweep drops records whose expiry has already passed. Caller holds mu.
func (s *MemoryStore) sweep(now time.Time) {
	for key, expiry := range s.records {
		if !expiry.After(now) {
			delete(s.records, key)
		}
	}
}
