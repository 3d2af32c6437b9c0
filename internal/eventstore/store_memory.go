package eventstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	dErrors "carebase/pkg/domain-errors"
	"carebase/pkg/platform/sentinel"
	"carebase/pkg/requestcontext"
)

type streamKey struct {
	id  uuid.UUID
	typ StreamType
}

type versionKey struct {
	stream  streamKey
	version int
}

// InMemoryStore is a process-local ledger with the same uniqueness and
// ordering guarantees as the PostgreSQL store.
type InMemoryStore struct {
	mu       sync.RWMutex
	seq      int64
	events   []Event
	byID     map[uuid.UUID]int
	versions map[versionKey]int
	streams  map[streamKey][]int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:     make(map[uuid.UUID]int),
		versions: make(map[versionKey]int),
		streams:  make(map[streamKey][]int),
	}
}

func (s *InMemoryStore) Append(ctx context.Context, ev NewEvent) (Event, error) {
	if err := ValidateNew(ev); err != nil {
		return Event{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sk := streamKey{id: ev.StreamID, typ: ev.StreamType}
	vk := versionKey{stream: sk, version: ev.StreamVersion}
	if _, taken := s.versions[vk]; taken {
		return Event{}, dErrors.Wrap(sentinel.ErrConflict, dErrors.CodeConcurrencyConflict,
			fmt.Sprintf("stream %s/%s already has version %d", ev.StreamType, ev.StreamID, ev.StreamVersion))
	}

	s.seq++
	stored := newEvent(ev, s.seq, requestcontext.Now(ctx))
	idx := len(s.events)
	s.events = append(s.events, stored)
	s.byID[stored.ID] = idx
	s.versions[vk] = idx
	s.streams[sk] = append(s.streams[sk], idx)
	return copyEvent(stored), nil
}

func (s *InMemoryStore) Get(_ context.Context, eventID uuid.UUID) (Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[eventID]
	if !ok {
		return Event{}, sentinel.ErrNotFound
	}
	return copyEvent(s.events[idx]), nil
}

func (s *InMemoryStore) ListByStream(_ context.Context, streamID uuid.UUID, streamType StreamType) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, 0, len(s.streams[streamKey{id: streamID, typ: streamType}]))
	for _, idx := range s.streams[streamKey{id: streamID, typ: streamType}] {
		out = append(out, copyEvent(s.events[idx]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreamVersion < out[j].StreamVersion })
	return out, nil
}

func (s *InMemoryStore) ListByStreamID(_ context.Context, streamID uuid.UUID) ([]Event, error) {
	return s.filter(func(e Event) bool { return e.StreamID == streamID }, Page{}), nil
}

func (s *InMemoryStore) ListBySequenceRange(_ context.Context, fromSeq, toSeq int64) ([]Event, error) {
	return s.filter(func(e Event) bool { return e.Sequence >= fromSeq && e.Sequence <= toSeq }, Page{}), nil
}

func (s *InMemoryStore) ListByCorrelationID(_ context.Context, correlationID string) ([]Event, error) {
	if correlationID == "" {
		return nil, nil
	}
	return s.filter(func(e Event) bool { return e.Metadata.CorrelationID == correlationID }, Page{}), nil
}

func (s *InMemoryStore) ListByTypePrefix(_ context.Context, prefix string, page Page) ([]Event, error) {
	return s.filter(func(e Event) bool { return strings.HasPrefix(string(e.EventType), prefix) }, page), nil
}

func (s *InMemoryStore) ListUnprocessed(_ context.Context, limit int) ([]Event, error) {
	return s.filter(func(e Event) bool { return e.ProcessedAt == nil }, Page{Limit: limit}), nil
}

func (s *InMemoryStore) LastSequence(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq, nil
}

func (s *InMemoryStore) StreamVersion(_ context.Context, streamID uuid.UUID, streamType StreamType) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := 0
	for _, idx := range s.streams[streamKey{id: streamID, typ: streamType}] {
		if v := s.events[idx].StreamVersion; v > latest {
			latest = v
		}
	}
	return latest, nil
}

func (s *InMemoryStore) MaxProcessedVersion(_ context.Context, streamID uuid.UUID, streamType StreamType) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := 0
	for _, idx := range s.streams[streamKey{id: streamID, typ: streamType}] {
		e := s.events[idx]
		if e.ProcessedAt != nil && e.StreamVersion > latest {
			latest = e.StreamVersion
		}
	}
	return latest, nil
}

func (s *InMemoryStore) MarkProcessed(_ context.Context, eventID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[eventID]
	if !ok {
		return sentinel.ErrNotFound
	}
	at = at.UTC()
	s.events[idx].ProcessedAt = &at
	s.events[idx].ProcessingError = nil
	return nil
}

func (s *InMemoryStore) MarkFailed(_ context.Context, eventID uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[eventID]
	if !ok {
		return sentinel.ErrNotFound
	}
	s.events[idx].ProcessedAt = nil
	s.events[idx].ProcessingError = &reason
	s.events[idx].RetryCount++
	return nil
}

func (s *InMemoryStore) Stats(_ context.Context) ([]StreamTypeStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byType := make(map[StreamType]*StreamTypeStats)
	for _, e := range s.events {
		st, ok := byType[e.StreamType]
		if !ok {
			st = &StreamTypeStats{StreamType: e.StreamType}
			byType[e.StreamType] = st
		}
		st.Total++
		switch {
		case e.Processed():
			st.Processed++
		case e.Failed():
			st.Failed++
		default:
			st.Pending++
		}
	}
	out := make([]StreamTypeStats, 0, len(byType))
	for _, st := range byType {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreamType < out[j].StreamType })
	return out, nil
}

// filter returns matching events in sequence order, paged.
func (s *InMemoryStore) filter(keep func(Event) bool, page Page) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []Event
	for _, e := range s.events {
		if keep(e) {
			matched = append(matched, e)
		}
	}
	if page.Newest {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}
	if page.Offset > 0 {
		if page.Offset >= len(matched) {
			return nil
		}
		matched = matched[page.Offset:]
	}
	if page.Limit > 0 && len(matched) > page.Limit {
		matched = matched[:page.Limit]
	}
	out := make([]Event, len(matched))
	for i, e := range matched {
		out[i] = copyEvent(e)
	}
	return out
}

func copyEvent(e Event) Event {
	out := e
	if e.ProcessedAt != nil {
		t := *e.ProcessedAt
		out.ProcessedAt = &t
	}
	if e.ProcessingError != nil {
		msg := *e.ProcessingError
		out.ProcessingError = &msg
	}
	out.Payload = append([]byte(nil), e.Payload...)
	return out
}
