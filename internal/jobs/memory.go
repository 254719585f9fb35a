package jobs

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	rec     Record
	expires time.Time
}

// MemoryStore keeps job records in process, records expire TTL after their last write.
type MemoryStore struct {
	TTL time.Duration

	mu      sync.Mutex
	records map[string]memoryEntry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{TTL: ttl, records: map[string]memoryEntry{}}
}

func (m *MemoryStore) Put(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expires time.Time
	if m.TTL > 0 {
		expires = time.Now().Add(m.TTL)
	}
	m.records[rec.ID] = memoryEntry{rec: *rec, expires: expires}
	m.prune()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.records[id]
	if !ok || e.expired(time.Now()) {
		delete(m.records, id)
		return nil, ErrJobNotFound
	}

	rec := e.rec
	return &rec, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, id)
	return nil
}

// prune must be called with the lock held.
func (m *MemoryStore) prune() {
	now := time.Now()
	for id, e := range m.records {
		if e.expired(now) {
			delete(m.records, id)
		}
	}
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}
