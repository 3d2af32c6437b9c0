// Package eventbus carries committed ledger events to asynchronous
// consumers (the bootstrap saga and its cleanup listener). Delivery is
// at-least-once; consumers must tolerate redelivery.
package eventbus

import (
	"context"
	"strings"

	"carebase/internal/eventstore"
)

// Handler consumes one event. A returned error is logged by the bus; the
// event is not redelivered by the in-memory bus.
type Handler func(ctx context.Context, evt eventstore.Event) error

// Publisher sends committed events downstream.
type Publisher interface {
	Publish(ctx context.Context, events ...eventstore.Event) error
}

// Bus is a publisher with subscriptions and a delivery loop.
type Bus interface {
	Publisher
	// Subscribe registers h for events whose type starts with prefix.
	Subscribe(name, prefix string, h Handler)
	// Run delivers events until ctx is cancelled.
	Run(ctx context.Context) error
}

type subscription struct {
	name    string
	prefix  string
	handler Handler
}

func (s subscription) matches(evt eventstore.Event) bool {
	return strings.HasPrefix(string(evt.EventType), s.prefix)
}
