package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"

	"carebase/internal/eventstore"
)

const headerEventType = "event_type"

// KafkaBus publishes events to one topic keyed by stream id, so per-stream
// order is kept within a partition, and consumes the same topic as a
// consumer group. Offsets are committed after handlers ran.
type KafkaBus struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger

	mu   sync.RWMutex
	subs []subscription
}

func NewKafkaBus(client *kgo.Client, topic string, logger *slog.Logger) *KafkaBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaBus{client: client, topic: topic, logger: logger}
}

func (b *KafkaBus) Subscribe(name, prefix string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{name: name, prefix: prefix, handler: h})
}

func (b *KafkaBus) Publish(ctx context.Context, events ...eventstore.Event) error {
	if len(events) == 0 {
		return nil
	}
	records := make([]*kgo.Record, 0, len(events))
	for _, evt := range events {
		value, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", evt.ID, err)
		}
		records = append(records, &kgo.Record{
			Topic: b.topic,
			Key:   []byte(evt.StreamID.String()),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: headerEventType, Value: []byte(evt.EventType)},
			},
		})
	}
	if err := b.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce events: %w", err)
	}
	return nil
}

// Run polls until ctx is cancelled or the client is closed.
func (b *KafkaBus) Run(ctx context.Context) error {
	for {
		fetches := b.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		for _, fe := range fetches.Errors() {
			if errors.Is(fe.Err, context.Canceled) {
				return nil
			}
			b.logger.ErrorContext(ctx, "kafka fetch error",
				"topic", fe.Topic,
				"partition", fe.Partition,
				"error", fe.Err,
			)
		}
		fetches.EachRecord(func(rec *kgo.Record) {
			b.handle(ctx, rec)
		})
		if err := b.client.CommitUncommittedOffsets(ctx); err != nil && ctx.Err() == nil {
			b.logger.ErrorContext(ctx, "kafka commit failed", "error", err)
		}
	}
}

func (b *KafkaBus) handle(ctx context.Context, rec *kgo.Record) {
	var evt eventstore.Event
	if err := json.Unmarshal(rec.Value, &evt); err != nil {
		// Malformed records are skipped so they do not block the partition.
		b.logger.WarnContext(ctx, "skipping malformed event record",
			"topic", rec.Topic,
			"partition", rec.Partition,
			"offset", rec.Offset,
			"error", err,
		)
		return
	}

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
