package clinical

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"carebase/pkg/domain"
	"carebase/pkg/platform/sentinel"
)

type memoryDoc[T any] struct {
	seq int
	doc T
}

type InMemoryDocuments[T any] struct {
	mu   sync.RWMutex
	seq  int
	docs map[uuid.UUID]memoryDoc[T]
}

func NewInMemoryDocuments[T any]() *InMemoryDocuments[T] {
	return &InMemoryDocuments[T]{docs: make(map[uuid.UUID]memoryDoc[T])}
}

func (m *InMemoryDocuments[T]) Insert(_ context.Context, id uuid.UUID, _ domain.OrganizationID, doc T) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; ok {
		return false, nil
	}
	m.seq++
	m.docs[id] = memoryDoc[T]{seq: m.seq, doc: doc}
	return true, nil
}

func (m *InMemoryDocuments[T]) Get(_ context.Context, id uuid.UUID) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	if !ok {
		var zero T
		return zero, sentinel.ErrNotFound
	}
	return d.doc, nil
}

func (m *InMemoryDocuments[T]) Update(_ context.Context, id uuid.UUID, doc T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	d.doc = doc
	m.docs[id] = d
	return nil
}

func (m *InMemoryDocuments[T]) ListWhere(_ context.Context, field, value string) ([]T, error) {
	return m.filter(func(fields map[string]json.RawMessage) bool {
		var got string
		return json.Unmarshal(fields[field], &got) == nil && got == value
	})
}

func (m *InMemoryDocuments[T]) ListContainingAny(_ context.Context, field string, values []string) ([]T, error) {
	return m.filter(func(fields map[string]json.RawMessage) bool {
		var got []string
		if json.Unmarshal(fields[field], &got) != nil {
			return false
		}
		return slices.ContainsFunc(got, func(v string) bool { return slices.Contains(values, v) })
	})
}

// filter matches on the JSON form so field names mean the same as in PostgreSQL.
func (m *InMemoryDocuments[T]) filter(keep func(map[string]json.RawMessage) bool) ([]T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []memoryDoc[T]
	for _, d := range m.docs {
		raw, err := json.Marshal(d.doc)
		if err != nil {
			return nil, fmt.Errorf("encode document: %w", err)
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		if keep(fields) {
			matched = append(matched, d)
		}
	}
	slices.SortFunc(matched, func(a, b memoryDoc[T]) int { return a.seq - b.seq })
	out := make([]T, len(matched))
	for i, d := range matched {
		out[i] = d.doc
	}
	return out, nil
}
