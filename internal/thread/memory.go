package thread

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/coday/pkg/models"
)

// MemoryStore keeps threads in process memory. Useful for tests and for
// ephemeral one-shot runs that never touch disk.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

type memoryRecord struct {
	id         string
	name       string
	createdAt  time.Time
	modifiedAt time.Time
	forkDepth  int
	entries    []models.ThreadEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]memoryRecord)}
}

// Save stores a deep copy of the thread's state.
func (s *MemoryStore) Save(ctx context.Context, t *Thread) error {
	entries := t.Entries()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[t.ID()] = memoryRecord{
		id:         t.ID(),
		name:       t.Name(),
		createdAt:  t.CreatedAt(),
		modifiedAt: t.ModifiedAt(),
		forkDepth:  t.ForkDepth(),
		entries:    entries,
	}
	return nil
}

// Load rebuilds a thread from the stored copy and repairs orphaned tool
// requests.
func (s *MemoryStore) Load(ctx context.Context, id string) (*Thread, error) {
	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	t := Restore(rec.id, rec.name, rec.createdAt, rec.modifiedAt, rec.forkDepth, rec.entries)
	t.Repair()
	return t, nil
}

// List returns summaries ordered by most recent modification.
func (s *MemoryStore) List(ctx context.Context) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Summary, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, Summary{
			ID:         rec.id,
			Name:       rec.name,
			CreatedAt:  rec.createdAt,
			ModifiedAt: rec.modifiedAt,
			EntryCount: len(rec.entries),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ModifiedAt.After(out[j].ModifiedAt)
	})
	return out, nil
}

// Delete removes a stored thread.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}
