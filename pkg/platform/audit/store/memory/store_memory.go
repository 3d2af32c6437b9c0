package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	audit "carebase/pkg/platform/audit"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	records []audit.Record
	seen    map[uuid.UUID]struct{}
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{seen: make(map[uuid.UUID]struct{})}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.seen = make(map[uuid.UUID]struct{})
}

// Append ignores records whose EventID was already audited.
func (s *InMemoryStore) Append(_ context.Context, rec audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[rec.EventID]; dup {
		return nil
	}
	if rec.Category == "" {
		rec.Category = audit.CategoryFor(rec.StreamType)
	}
	s.seen[rec.EventID] = struct{}{}
	s.records = append(s.records, rec)
	return nil
}

func (s *InMemoryStore) ListByStream(_ context.Context, streamID uuid.UUID) ([]audit.Record, error) {
	return s.filter(func(r audit.Record) bool { return r.StreamID == streamID }), nil
}

func (s *InMemoryStore) ListByActor(_ context.Context, actorID string) ([]audit.Record, error) {
	return s.filter(func(r audit.Record) bool { return r.ActorID == actorID }), nil
}

// ListRecent returns the newest records first.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Record, error) {
	s.mu.RLock()
	out := append([]audit.Record(nil), s.records...)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.After(out[j].RecordedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) filter(keep func(audit.Record) bool) []audit.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Record
	for _, r := range s.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
