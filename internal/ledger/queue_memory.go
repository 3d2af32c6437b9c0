package ledger

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"carebase/internal/router"
	"carebase/pkg/platform/sentinel"
	"carebase/pkg/requestcontext"
)

type InMemoryQueue struct {
	mu    sync.Mutex
	items map[uuid.UUID]*PendingFollowUp
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{items: make(map[uuid.UUID]*PendingFollowUp)}
}

func (q *InMemoryQueue) Enqueue(ctx context.Context, f router.FollowUp, reason string) error {
	now := requestcontext.Now(ctx)
	q.mu.Lock()
	defer q.mu.Unlock()
	id := uuid.New()
	q.items[id] = &PendingFollowUp{
		ID:            id,
		FollowUp:      f,
		LastError:     reason,
		EnqueuedAt:    now,
		NextAttemptAt: now,
	}
	return nil
}

func (q *InMemoryQueue) Claim(_ context.Context, limit int, now time.Time, lease time.Duration) ([]PendingFollowUp, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var due []*PendingFollowUp
	for _, item := range q.items {
		if !item.NextAttemptAt.After(now) {
			due = append(due, item)
		}
	}
	slices.SortFunc(due, func(a, b *PendingFollowUp) int { return a.EnqueuedAt.Compare(b.EnqueuedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]PendingFollowUp, 0, len(due))
	for _, item := range due {
		item.Attempts++
		item.NextAttemptAt = now.Add(lease)
		out = append(out, *item)
	}
	return out, nil
}

func (q *InMemoryQueue) Complete(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.items[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(q.items, id)
	return nil
}

func (q *InMemoryQueue) Fail(_ context.Context, id uuid.UUID, reason string, retryAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	item.LastError = reason
	item.NextAttemptAt = retryAt
	return nil
}

func (q *InMemoryQueue) Pending(context.Context) ([]PendingFollowUp, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]PendingFollowUp, 0, len(q.items))
	for _, item := range q.items {
		out = append(out, *item)
	}
	slices.SortFunc(out, func(a, b PendingFollowUp) int { return a.EnqueuedAt.Compare(b.EnqueuedAt) })
	return out, nil
}
