// Package ledger is the write path: it appends an event, dispatches it through
// the router in the same unit of work, appends the follow-up events projectors
// ask for, and publishes everything that committed to the event bus. Committed
// events stay in an outbox until the bus accepts them.
package ledger

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"carebase/internal/eventbus"
	"carebase/internal/eventstore"
	"carebase/internal/platform/metrics"
	"carebase/internal/router"
	dErrors "carebase/pkg/domain-errors"
	"carebase/pkg/platform/sentinel"
	"carebase/pkg/platform/tx"
	"carebase/pkg/requestcontext"
)

const (
	defaultMaxCascade   = 1000
	defaultClaimLease   = 30 * time.Second
	defaultPublishGrace = 30 * time.Second
	maxRetryDelay       = 5 * time.Minute
)

// AppendRequest describes one new fact.
type AppendRequest struct {
	StreamID   uuid.UUID
	StreamType eventstore.StreamType
	EventType  eventstore.EventType
	// Payload is a json.RawMessage or any value that marshals to a JSON object.
	Payload any
	// ExpectedVersion pins the stream version; zero appends at the next one.
	ExpectedVersion int

	// UserID overrides the actor taken from the request context.
	UserID        string
	Reason        string
	CorrelationID string
	CausationID   string
	Context       map[string]any
}

type Ledger struct {
	store          eventstore.Store
	router         *router.Router
	queue          Queue
	outbox         Outbox
	publisher      eventbus.Publisher
	tx             tx.Runner
	logger         *slog.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	maxCascade     int
	appendAttempts int
}

type Option func(*Ledger)

func WithQueue(q Queue) Option {
	return func(l *Ledger) { l.queue = q }
}

// WithOutbox sets where committed events wait until the bus accepts them.
// Entries older than the publish grace are republished by the worker.
func WithOutbox(o Outbox) Option {
	return func(l *Ledger) { l.outbox = o }
}

// WithPublisher sets where committed events go. Without one nothing is published.
func WithPublisher(p eventbus.Publisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

func WithTxRunner(runner tx.Runner) Option {
	return func(l *Ledger) { l.tx = runner }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithMaxCascade bounds how many follow-ups one append may produce inline;
// the rest are deferred to the queue.
func WithMaxCascade(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxCascade = n
		}
	}
}

func WithAppendAttempts(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.appendAttempts = n
		}
	}
}

func New(store eventstore.Store, r *router.Router, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger: event store is required")
	}
	if r == nil {
		return nil, fmt.Errorf("ledger: router is required")
	}
	l := &Ledger{
		store:          store,
		router:         r,
		queue:          NewInMemoryQueue(),
		outbox:         NewInMemoryOutbox(),
		tx:             tx.NoopRunner{},
		logger:         slog.Default(),
		tracer:         otel.Tracer("carebase/ledger"),
		maxCascade:     defaultMaxCascade,
		appendAttempts: eventstore.DefaultAppendAttempts,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Ledger) Store() eventstore.Store { return l.store }

// Append records req and projects it before returning. A projection failure
// does not fail the append: the returned event carries the failure in its
// processing status. Follow-ups are appended in the same unit of work; one
// that cannot be appended is deferred to the queue. Publishing happens after
// commit; events the bus rejects stay in the outbox for RepublishPending.
func (l *Ledger) Append(ctx context.Context, req AppendRequest) (eventstore.Event, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.append", trace.WithAttributes(
		attribute.String("event.type", string(req.EventType)),
		attribute.String("stream.type", string(req.StreamType)),
		attribute.String("stream.id", req.StreamID.String()),
	))
	defer span.End()

	ev, err := l.newEvent(ctx, req)
	if err != nil {
		span.RecordError(err)
		return eventstore.Event{}, err
	}

	var (
		root      eventstore.Event
		committed []eventstore.Event
	)
	err = l.tx.RunInTx(ctx, func(ctx context.Context) error {
		committed = committed[:0]
		appended, err := l.appendRoot(ctx, ev, req.ExpectedVersion)
		if err != nil {
			return err
		}
		res, err := l.router.Dispatch(ctx, appended)
		if err != nil {
			return err
		}
		cascaded, err := l.cascade(ctx, res.FollowUps)
		if err != nil {
			return err
		}
		root, err = l.store.Get(ctx, appended.ID)
		if err != nil {
			return fmt.Errorf("reload appended event: %w", err)
		}
		committed = append(committed, root)
		committed = append(committed, cascaded...)
		return l.stage(ctx, committed)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		return eventstore.Event{}, err
	}

	span.SetAttributes(attribute.Int("stream.version", root.StreamVersion), attribute.Int("cascade.count", len(committed)-1))
	l.publish(ctx, committed)
	return root, nil
}

// Retry re-dispatches an unprocessed event, appending any follow-ups it yields.
func (l *Ledger) Retry(ctx context.Context, eventID uuid.UUID) (router.Result, error) {
	var (
		result    router.Result
		committed []eventstore.Event
	)
	err := l.tx.RunInTx(ctx, func(ctx context.Context) error {
		evt, err := l.store.Get(ctx, eventID)
		if err != nil {
			return err
		}
		result, err = l.router.Dispatch(ctx, evt)
		if err != nil {
			return err
		}
		committed, err = l.cascade(ctx, result.FollowUps)
		if err != nil {
			return err
		}
		return l.stage(ctx, committed)
	})
	if err != nil {
		return router.Result{}, err
	}
	l.publish(ctx, committed)
	return result, nil
}

// DrainPending appends up to limit deferred follow-ups. Items that fail again
// are rescheduled with exponential delay.
func (l *Ledger) DrainPending(ctx context.Context, limit int) (int, error) {
	now := requestcontext.Now(ctx)
	items, err := l.queue.Claim(ctx, limit, now, defaultClaimLease)
	if err != nil {
		return 0, err
	}

	drained := 0
	for _, item := range items {
		var committed []eventstore.Event
		err := l.tx.RunInTx(ctx, func(ctx context.Context) error {
			evt, next, err := l.applyFollowUp(ctx, item.FollowUp)
			if err != nil {
				return err
			}
			cascaded, err := l.cascade(ctx, next)
			if err != nil {
				return err
			}
			committed = append([]eventstore.Event{evt}, cascaded...)
			if err := l.stage(ctx, committed); err != nil {
				return err
			}
			return l.queue.Complete(ctx, item.ID)
		})
		if err != nil {
			if ctx.Err() != nil {
				return drained, ctx.Err()
			}
			l.logger.WarnContext(ctx, "deferred follow-up failed again",
				"item_id", item.ID.String(),
				"event_type", string(item.FollowUp.EventType),
				"attempts", item.Attempts,
				"error", err,
			)
			if ferr := l.queue.Fail(ctx, item.ID, err.Error(), now.Add(retryDelay(item.Attempts))); ferr != nil {
				return drained, fmt.Errorf("reschedule follow-up %s: %w", item.ID, ferr)
			}
			continue
		}
		l.publish(ctx, committed)
		drained++
	}
	return drained, nil
}

func (l *Ledger) appendRoot(ctx context.Context, ev eventstore.NewEvent, expected int) (eventstore.Event, error) {
	store := savepointStore{Store: l.store, tx: l.tx}
	var (
		appended eventstore.Event
		err      error
	)
	if expected > 0 {
		ev.StreamVersion = expected
		appended, err = store.Append(ctx, ev)
	} else {
		appended, err = eventstore.AppendNext(ctx, store, ev, l.appendAttempts)
	}
	if err != nil {
		return eventstore.Event{}, err
	}
	l.metrics.IncEventAppended(string(appended.StreamType))
	return appended, nil
}

// cascade appends follow-ups breadth first. Each one runs in its own nested
// unit so a failure only defers that follow-up.
func (l *Ledger) cascade(ctx context.Context, followUps []router.FollowUp) ([]eventstore.Event, error) {
	var appended []eventstore.Event
	work := append([]router.FollowUp(nil), followUps...)
	for len(work) > 0 {
		f := work[0]
		work = work[1:]

		if len(appended) >= l.maxCascade {
			l.logger.WarnContext(ctx, "cascade limit reached, deferring follow-up",
				"event_type", string(f.EventType),
				"causation_id", f.Metadata.CausationID,
				"limit", l.maxCascade,
			)
			if err := l.queue.Enqueue(ctx, f, "cascade limit reached"); err != nil {
				return nil, fmt.Errorf("defer follow-up: %w", err)
			}
			continue
		}

		evt, next, err := l.applyFollowUp(ctx, f)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			l.logger.WarnContext(ctx, "follow-up deferred",
				"event_type", string(f.EventType),
				"stream_id", f.StreamID.String(),
				"causation_id", f.Metadata.CausationID,
				"error", err,
			)
			if qerr := l.queue.Enqueue(ctx, f, err.Error()); qerr != nil {
				return nil, fmt.Errorf("defer follow-up: %w", qerr)
			}
			continue
		}
		l.metrics.IncCascade()
		appended = append(appended, evt)
		work = append(work, next...)
	}
	return appended, nil
}

func (l *Ledger) applyFollowUp(ctx context.Context, f router.FollowUp) (eventstore.Event, []router.FollowUp, error) {
	var (
		evt  eventstore.Event
		next []router.FollowUp
	)
	err := l.tx.RunInTx(ctx, func(ctx context.Context) error {
		appended, err := l.appendRoot(ctx, eventstore.NewEvent{
			StreamID:   f.StreamID,
			StreamType: f.StreamType,
			EventType:  f.EventType,
			Payload:    f.Payload,
			Metadata:   f.Metadata,
		}, 0)
		if err != nil {
			return err
		}
		res, err := l.router.Dispatch(ctx, appended)
		if err != nil {
			return err
		}
		evt, next = appended, res.FollowUps
		return nil
	})
	return evt, next, err
}

// stage records events in the outbox inside the current unit of work.
func (l *Ledger) stage(ctx context.Context, events []eventstore.Event) error {
	if l.publisher == nil || len(events) == 0 {
		return nil
	}
	if err := l.outbox.Add(ctx, requestcontext.Now(ctx).Add(defaultPublishGrace), eventIDs(events)...); err != nil {
		return fmt.Errorf("stage committed events: %w", err)
	}
	return nil
}

func (l *Ledger) publish(ctx context.Context, events []eventstore.Event) bool {
	if l.publisher == nil || len(events) == 0 {
		return true
	}
	if err := l.publisher.Publish(ctx, events...); err != nil {
		l.metrics.IncBusPublishFailure()
		l.logger.ErrorContext(ctx, "publish committed events failed",
			"count", len(events),
			"first_event_id", events[0].ID.String(),
			"error", err,
		)
		return false
	}
	if err := l.outbox.Remove(ctx, eventIDs(events)...); err != nil {
		l.logger.WarnContext(ctx, "clear published events from outbox", "count", len(events), "error", err)
	}
	return true
}

// RepublishPending publishes up to limit committed events whose inline
// publish never cleared the outbox, oldest first. Consumers see them at least
// once more; a failed batch stays leased and is tried again later.
func (l *Ledger) RepublishPending(ctx context.Context, limit int) (int, error) {
	if l.publisher == nil {
		return 0, nil
	}
	ids, err := l.outbox.Claim(ctx, limit, requestcontext.Now(ctx), defaultClaimLease)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	events := make([]eventstore.Event, 0, len(ids))
	var missing []uuid.UUID
	for _, id := range ids {
		evt, err := l.store.Get(ctx, id)
		if errors.Is(err, sentinel.ErrNotFound) {
			missing = append(missing, id)
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("load outbox event %s: %w", id, err)
		}
		events = append(events, evt)
	}
	if len(missing) > 0 {
		if err := l.outbox.Remove(ctx, missing...); err != nil {
			return 0, err
		}
	}
	slices.SortFunc(events, func(a, b eventstore.Event) int { return cmp.Compare(a.Sequence, b.Sequence) })
	if !l.publish(ctx, events) {
		return 0, fmt.Errorf("republish %d events: %w", len(events), sentinel.ErrUnavailable)
	}
	return len(events), nil
}

func eventIDs(events []eventstore.Event) []uuid.UUID {
	ids := make([]uuid.UUID, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	return ids
}

func (l *Ledger) newEvent(ctx context.Context, req AppendRequest) (eventstore.NewEvent, error) {
	payload, err := encodePayload(req.Payload)
	if err != nil {
		return eventstore.NewEvent{}, err
	}
	md := eventstore.Metadata{
		UserID:        req.UserID,
		Reason:        req.Reason,
		CorrelationID: req.CorrelationID,
		CausationID:   req.CausationID,
		Context:       req.Context,
	}
	if md.UserID == "" {
		if uid := requestcontext.UserID(ctx); !uid.IsNil() {
			md.UserID = uid.String()
		}
	}
	if md.CorrelationID == "" {
		md.CorrelationID = requestcontext.CorrelationID(ctx)
	}
	if md.CorrelationID == "" {
		md.CorrelationID = uuid.NewString()
	}
	return eventstore.NewEvent{
		StreamID:   req.StreamID,
		StreamType: req.StreamType,
		EventType:  req.EventType,
		Payload:    payload,
		Metadata:   md,
	}, nil
}

func encodePayload(p any) (json.RawMessage, error) {
	switch v := p.(type) {
	case nil:
		return nil, dErrors.New(dErrors.CodeValidation, "payload is required")
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, "payload is not serializable")
		}
		return raw, nil
	}
}

func retryDelay(attempts int) time.Duration {
	d := time.Second << min(max(attempts, 0), 16)
	return min(d, maxRetryDelay)
}

// savepointStore runs every append in a nested unit so a unique violation
// does not abort the enclosing PostgreSQL transaction.
type savepointStore struct {
	eventstore.Store
	tx tx.Runner
}

func (s savepointStore) Append(ctx context.Context, ev eventstore.NewEvent) (eventstore.Event, error) {
	var appended eventstore.Event
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		appended, err = s.Store.Append(ctx, ev)
		return err
	})
	return appended, err
}
