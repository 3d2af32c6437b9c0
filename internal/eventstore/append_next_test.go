package eventstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// racingStore lets a competing writer take the next version before the first
// n appends land.
type racingStore struct {
	*InMemoryStore
	races int
}

func (r *racingStore) Append(ctx context.Context, ev NewEvent) (Event, error) {
	if r.races > 0 {
		r.races--
		competing := ev
		competing.EventType = "organization.updated"
		if _, err := r.InMemoryStore.Append(ctx, competing); err != nil {
			return Event{}, err
		}
	}
	return r.InMemoryStore.Append(ctx, ev)
}

func TestAppendNext_RetriesOnConflict(t *testing.T) {
	store := &racingStore{InMemoryStore: NewInMemoryStore(), races: 2}
	stream := uuid.New()

	evt, err := AppendNext(context.Background(), store, newOrgEvent(stream, 0, "organization.created"), 5)
	require.NoError(t, err)
	assert.Equal(t, 3, evt.StreamVersion)
	assert.Equal(t, EventType("organization.created"), evt.EventType)
}

func TestAppendNext_GivesUpAfterAttempts(t *testing.T) {
	store := &racingStore{InMemoryStore: NewInMemoryStore(), races: 3}

	_, err := AppendNext(context.Background(), store, newOrgEvent(uuid.New(), 0, "organization.created"), 3)
	require.Error(t, err)
	assert.True(t, IsConflict(err))
}
