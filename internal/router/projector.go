// Package router dispatches appended events to the projector registered for
// their stream type and records the outcome on the event. It never retries
// and never lets a projector error escape: a failure is stored on the event
// (processing_error, retry_count) and left for external retry tooling.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"carebase/internal/eventstore"
	dErrors "carebase/pkg/domain-errors"
)

// Projector folds events of one or more stream types into a read model.
// Apply must be idempotent: the same event may be applied more than once.
type Projector interface {
	Name() string
	StreamTypes() []eventstore.StreamType
	EventTypes() []eventstore.EventType
	Apply(ctx context.Context, evt eventstore.Event, emit Emitter) error
}

// FollowUp is a new fact a projector asks to append once its own event has
// been applied. The ledger assigns the stream version when it drains the queue.
type FollowUp struct {
	StreamID   uuid.UUID             `json:"stream_id"`
	StreamType eventstore.StreamType `json:"stream_type"`
	EventType  eventstore.EventType  `json:"event_type"`
	Payload    json.RawMessage       `json:"payload"`
	Metadata   eventstore.Metadata   `json:"metadata"`
}

// Emitter collects follow-ups during Apply.
type Emitter interface {
	Emit(f FollowUp)
}

// NewFollowUp builds a follow-up caused by parent, inheriting its actor and
// correlation id.
func NewFollowUp(parent eventstore.Event, streamID uuid.UUID, streamType eventstore.StreamType, eventType eventstore.EventType, payload any) (FollowUp, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return FollowUp{}, fmt.Errorf("marshal %s follow-up: %w", eventType, err)
	}
	return FollowUp{
		StreamID:   streamID,
		StreamType: streamType,
		EventType:  eventType,
		Payload:    raw,
		Metadata: eventstore.Metadata{
			UserID:        parent.Metadata.UserID,
			Reason:        fmt.Sprintf("cascade from %s", parent.EventType),
			CorrelationID: parent.Metadata.CorrelationID,
			CausationID:   parent.ID.String(),
		},
	}, nil
}

type collector struct {
	items []FollowUp
}

func (c *collector) Emit(f FollowUp) { c.items = append(c.items, f) }

type discard struct{}

func (discard) Emit(FollowUp) {}

// HandlerFunc applies one event type.
type HandlerFunc func(ctx context.Context, evt eventstore.Event, emit Emitter) error

// Handlers is a projector's event-type dispatch table.
type Handlers map[eventstore.EventType]HandlerFunc

// EventTypes returns the handled event types in sorted order.
func (h Handlers) EventTypes() []eventstore.EventType {
	out := make([]eventstore.EventType, 0, len(h))
	for t := range h {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Apply runs the handler for evt. An event type outside the table is logged
// and ignored so that newer producers cannot wedge an older projector.
func (h Handlers) Apply(ctx context.Context, logger *slog.Logger, evt eventstore.Event, emit Emitter) error {
	fn, ok := h[evt.EventType]
	if !ok {
		logger.WarnContext(ctx, "unhandled event type",
			"stream_type", string(evt.StreamType),
			"event_type", string(evt.EventType),
			"event_id", evt.ID.String(),
		)
		return nil
	}
	return fn(ctx, evt, emit)
}

// Handle adapts a typed handler; the payload is decoded into P first and a
// malformed payload is a projection error.
func Handle[P any](fn func(ctx context.Context, evt eventstore.Event, payload P, emit Emitter) error) HandlerFunc {
	return func(ctx context.Context, evt eventstore.Event, emit Emitter) error {
		var payload P
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			return dErrors.Wrap(err, dErrors.CodeProjection, fmt.Sprintf("malformed %s payload", evt.EventType))
		}
		return fn(ctx, evt, payload, emit)
	}
}
