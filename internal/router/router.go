package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"carebase/internal/eventstore"
	"carebase/internal/platform/metrics"
	dErrors "carebase/pkg/domain-errors"
	"carebase/pkg/platform/tx"
)

const defaultSlowThreshold = 100 * time.Millisecond

// Outcome is the router's verdict for one event.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeFailed    Outcome = "failed"
	// OutcomeUnrouted marks an event whose stream type has no projector; it is
	// marked processed so it never blocks its stream.
	OutcomeUnrouted Outcome = "unrouted"
	// OutcomeSkipped marks an event that was already processed.
	OutcomeSkipped Outcome = "skipped"
)

// Result describes one dispatch. FollowUps are only populated on success.
type Result struct {
	Outcome   Outcome
	Err       error
	FollowUps []FollowUp
	Duration  time.Duration
}

// StatusStore is the slice of the event store the router mutates.
type StatusStore interface {
	MaxProcessedVersion(ctx context.Context, streamID uuid.UUID, streamType eventstore.StreamType) (int, error)
	MarkProcessed(ctx context.Context, eventID uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, eventID uuid.UUID, reason string) error
}

type Router struct {
	store         StatusStore
	registry      *Registry
	validator     *VersionValidator
	tx            tx.Runner
	logger        *slog.Logger
	metrics       *metrics.Metrics
	tracer        trace.Tracer
	slowThreshold time.Duration
	now           func() time.Time
}

type Option func(*Router)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithTxRunner runs each projector in a nested unit of work so a failed
// projector leaves no partial writes.
func WithTxRunner(runner tx.Runner) Option {
	return func(r *Router) { r.tx = runner }
}

// WithSlowThreshold sets the latency above which a dispatch is logged as slow.
func WithSlowThreshold(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.slowThreshold = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

func New(store StatusStore, registry *Registry, opts ...Option) (*Router, error) {
	if store == nil {
		return nil, fmt.Errorf("router: store is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("router: registry is required")
	}
	r := &Router{
		store:         store,
		registry:      registry,
		validator:     NewVersionValidator(store),
		tx:            tx.NoopRunner{},
		logger:        slog.Default(),
		tracer:        otel.Tracer("carebase/router"),
		slowThreshold: defaultSlowThreshold,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Router) Registry() *Registry { return r.registry }

// Dispatch applies evt through its projector and records the outcome on the
// event. The returned error is reserved for failures to record that outcome.
func (r *Router) Dispatch(ctx context.Context, evt eventstore.Event) (Result, error) {
	ctx, span := r.tracer.Start(ctx, "router.dispatch", trace.WithAttributes(
		attribute.String("event.id", evt.ID.String()),
		attribute.String("event.type", string(evt.EventType)),
		attribute.String("stream.type", string(evt.StreamType)),
		attribute.Int("stream.version", evt.StreamVersion),
	))
	defer span.End()

	if evt.Processed() {
		r.metrics.ObserveDispatch(string(evt.StreamType), string(OutcomeSkipped), 0)
		return Result{Outcome: OutcomeSkipped}, nil
	}

	projector, ok := r.registry.Lookup(evt.StreamType)
	if !ok {
		r.logger.WarnContext(ctx, "no projector registered for stream type",
			"stream_type", string(evt.StreamType),
			"event_type", string(evt.EventType),
			"event_id", evt.ID.String(),
		)
		if err := r.store.MarkProcessed(ctx, evt.ID, r.now()); err != nil {
			span.RecordError(err)
			return Result{}, fmt.Errorf("mark unrouted event processed: %w", err)
		}
		r.metrics.ObserveDispatch(string(evt.StreamType), string(OutcomeUnrouted), 0)
		return Result{Outcome: OutcomeUnrouted}, nil
	}

	started := time.Now()
	var followUps []FollowUp
	applyErr := r.validator.Check(ctx, evt)
	if applyErr == nil {
		applyErr = r.tx.RunInTx(ctx, func(ctx context.Context) error {
			c := &collector{}
			if err := safeApply(ctx, projector, evt, c); err != nil {
				return err
			}
			followUps = c.items
			return nil
		})
	}
	elapsed := time.Since(started)

	if elapsed > r.slowThreshold {
		r.metrics.IncSlowDispatch(string(evt.StreamType))
		r.logger.WarnContext(ctx, "slow projection",
			"projector", projector.Name(),
			"event_type", string(evt.EventType),
			"event_id", evt.ID.String(),
			"duration_ms", elapsed.Milliseconds(),
			"threshold_ms", r.slowThreshold.Milliseconds(),
		)
	}

	if applyErr != nil {
		if !dErrors.HasCode(applyErr, dErrors.CodeSequence) && !dErrors.HasCode(applyErr, dErrors.CodeProjection) {
			applyErr = dErrors.Wrap(applyErr, dErrors.CodeProjection, fmt.Sprintf("%s failed", projector.Name()))
		}
		span.RecordError(applyErr)
		span.SetStatus(codes.Error, "projection failed")
		if err := r.store.MarkFailed(ctx, evt.ID, applyErr.Error()); err != nil {
			return Result{}, fmt.Errorf("record projection failure: %w", err)
		}
		r.logger.ErrorContext(ctx, "projection failed",
			"projector", projector.Name(),
			"event_type", string(evt.EventType),
			"event_id", evt.ID.String(),
			"stream_id", evt.StreamID.String(),
			"stream_version", evt.StreamVersion,
			"error", applyErr,
		)
		r.metrics.ObserveDispatch(string(evt.StreamType), string(OutcomeFailed), elapsed)
		return Result{Outcome: OutcomeFailed, Err: applyErr, Duration: elapsed}, nil
	}

	if err := r.store.MarkProcessed(ctx, evt.ID, r.now()); err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("mark event processed: %w", err)
	}
	r.metrics.ObserveDispatch(string(evt.StreamType), string(OutcomeProcessed), elapsed)
	return Result{Outcome: OutcomeProcessed, FollowUps: followUps, Duration: elapsed}, nil
}

func safeApply(ctx context.Context, p Projector, evt eventstore.Event, emit Emitter) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = dErrors.Newf(dErrors.CodeProjection, "%s panicked: %v", p.Name(), rec)
		}
	}()
	return p.Apply(ctx, evt, emit)
}
