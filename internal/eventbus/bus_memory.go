package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"carebase/internal/eventstore"
	"carebase/pkg/platform/sentinel"
)

const defaultBuffer = 256

// InMemoryBus fans events out to subscribers from a buffered channel drained
// by Run. With synchronous delivery, Publish invokes handlers inline.
type InMemoryBus struct {
	mu          sync.RWMutex
	subs        []subscription
	queue       chan eventstore.Event
	synchronous bool
	logger      *slog.Logger
}

type MemoryOption func(*InMemoryBus)

func WithBuffer(n int) MemoryOption {
	return func(b *InMemoryBus) {
		if n > 0 {
			b.queue = make(chan eventstore.Event, n)
		}
	}
}

// WithSynchronousDelivery makes Publish run handlers before returning.
func WithSynchronousDelivery() MemoryOption {
	return func(b *InMemoryBus) { b.synchronous = true }
}

func WithMemoryLogger(logger *slog.Logger) MemoryOption {
	return func(b *InMemoryBus) { b.logger = logger }
}

func NewInMemoryBus(opts ...MemoryOption) *InMemoryBus {
	b := &InMemoryBus{
		queue:  make(chan eventstore.Event, defaultBuffer),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *InMemoryBus) Subscribe(name, prefix string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{name: name, prefix: prefix, handler: h})
}

func (b *InMemoryBus) Publish(ctx context.Context, events ...eventstore.Event) error {
	for _, evt := range events {
		if b.synchronous {
			b.deliver(ctx, evt)
			continue
		}
		select {
		case b.queue <- evt:
		case <-ctx.Done():
			return fmt.Errorf("publish %s: %w", evt.EventType, ctx.Err())
		default:
			return fmt.Errorf("publish %s: bus buffer full: %w", evt.EventType, sentinel.ErrUnavailable)
		}
	}
	return nil
}

func (b *InMemoryBus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-b.queue:
			b.deliver(ctx, evt)
		}
	}
}

func (b *InMemoryBus) deliver(ctx context.Context, evt eventstore.Event) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs...)
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.matches(evt) {
			continue
		}
		if err := s.handler(ctx, evt); err != nil {
			b.logger.ErrorContext(ctx, "event handler failed",
				"subscriber", s.name,
				"event_type", string(evt.EventType),
				"event_id", evt.ID.String(),
				"error", err,
			)
		}
	}
}
