package ledger

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type outboxEntry struct {
	id    uuid.UUID
	added int
	due   time.Time
}

type InMemoryOutbox struct {
	mu      sync.Mutex
	seq     int
	entries map[uuid.UUID]*outboxEntry
}

func NewInMemoryOutbox() *InMemoryOutbox {
	return &InMemoryOutbox{entries: make(map[uuid.UUID]*outboxEntry)}
}

func (o *InMemoryOutbox) Add(_ context.Context, due time.Time, eventIDs ...uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range eventIDs {
		if _, ok := o.entries[id]; ok {
			continue
		}
		o.seq++
		o.entries[id] = &outboxEntry{id: id, added: o.seq, due: due}
	}
	return nil
}

func (o *InMemoryOutbox) Claim(_ context.Context, limit int, now time.Time, lease time.Duration) ([]uuid.UUID, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var due []*outboxEntry
	for _, e := range o.entries {
		if !e.due.After(now) {
			due = append(due, e)
		}
	}
	slices.SortFunc(due, func(a, b *outboxEntry) int { return a.added - b.added })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]uuid.UUID, 0, len(due))
	for _, e := range due {
		e.due = now.Add(lease)
		out = append(out, e.id)
	}
	return out, nil
}

func (o *InMemoryOutbox) Remove(_ context.Context, eventIDs ...uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range eventIDs {
		delete(o.entries, id)
	}
	return nil
}

func (o *InMemoryOutbox) Len(context.Context) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries), nil
}
