package eventbus

//go:generate mockgen -source=bus.go -destination=mocks/mocks.go -package=mocks Publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carebase/internal/eventstore"
	"carebase/pkg/platform/sentinel"
)

func event(eventType eventstore.EventType) eventstore.Event {
	return eventstore.Event{ID: uuid.New(), StreamID: uuid.New(), StreamType: "organization", EventType: eventType}
}

func TestInMemoryBus_SynchronousPrefixRouting(t *testing.T) {
	bus := NewInMemoryBus(WithSynchronousDelivery())
	var bootstrap, all []eventstore.EventType
	bus.Subscribe("saga", "organization.bootstrap.initiated", func(_ context.Context, e eventstore.Event) error {
		bootstrap = append(bootstrap, e.EventType)
		return nil
	})
	bus.Subscribe("tap", "", func(_ context.Context, e eventstore.Event) error {
		all = append(all, e.EventType)
		return errors.New("ignored")
	})

	require.NoError(t, bus.Publish(context.Background(),
		event("organization.bootstrap.initiated"),
		event("organization.created"),
	))

	assert.Equal(t, []eventstore.EventType{"organization.bootstrap.initiated"}, bootstrap)
	assert.Len(t, all, 2)
}

func TestInMemoryBus_AsyncDelivery(t *testing.T) {
	bus := NewInMemoryBus(WithBuffer(4))
	var mu sync.Mutex
	got := 0
	done := make(chan struct{})
	bus.Subscribe("saga", "organization.", func(context.Context, eventstore.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got++
		if got == 2 {
			close(done)
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bus.Run(ctx) }()

	require.NoError(t, bus.Publish(ctx, event("organization.created"), event("organization.updated")))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("events were not delivered")
	}
}

func TestInMemoryBus_FullBufferIsUnavailable(t *testing.T) {
	bus := NewInMemoryBus(WithBuffer(1))
	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, event("organization.created")))

	err := bus.Publish(ctx, event("organization.updated"))
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
}
