// Package admin is the operator surface over the event ledger: unprocessed
// events, entity history, processing statistics, manual re-dispatch and
// bootstrap saga monitoring.
package admin

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"carebase/internal/eventstore"
	"carebase/internal/ledger"
	"carebase/internal/router"
	dErrors "carebase/pkg/domain-errors"
	"carebase/pkg/platform/sentinel"
)

const (
	defaultUnprocessedLimit = 100
	maxUnprocessedLimit     = 1000
)

// EventReader is the read side of the event store the service needs.
type EventReader interface {
	Get(ctx context.Context, eventID uuid.UUID) (eventstore.Event, error)
	ListByStreamID(ctx context.Context, streamID uuid.UUID) ([]eventstore.Event, error)
	ListUnprocessed(ctx context.Context, limit int) ([]eventstore.Event, error)
	Stats(ctx context.Context) ([]eventstore.StreamTypeStats, error)
}

// Retrier re-dispatches a stored event; *ledger.Ledger implements it.
type Retrier interface {
	Retry(ctx context.Context, eventID uuid.UUID) (router.Result, error)
}

type Service struct {
	events  EventReader
	retrier Retrier
	queue   ledger.Queue
	logger  *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithQueue exposes the deferred follow-up queue.
func WithQueue(q ledger.Queue) Option {
	return func(s *Service) { s.queue = q }
}

func NewService(events EventReader, retrier Retrier, opts ...Option) (*Service, error) {
	if events == nil {
		return nil, errors.New("admin: event reader is required")
	}
	if retrier == nil {
		return nil, errors.New("admin: retrier is required")
	}
	s := &Service{events: events, retrier: retrier, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GetUnprocessedEvents lists events the router has not processed, oldest first.
func (s *Service) GetUnprocessedEvents(ctx context.Context, limit int) ([]eventstore.Event, error) {
	switch {
	case limit <= 0:
		limit = defaultUnprocessedLimit
	case limit > maxUnprocessedLimit:
		limit = maxUnprocessedLimit
	}
	return s.events.ListUnprocessed(ctx, limit)
}

// GetEntityHistory returns every event of an entity across stream types.
func (s *Service) GetEntityHistory(ctx context.Context, streamID uuid.UUID) ([]eventstore.Event, error) {
	if streamID == uuid.Nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "stream id is required")
	}
	events, err := s.events.ListByStreamID(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "no events for stream %s", streamID)
	}
	return events, nil
}

func (s *Service) ProcessingStats(ctx context.Context) ([]eventstore.StreamTypeStats, error) {
	return s.events.Stats(ctx)
}

// PendingFollowUps lists follow-ups waiting in the deferred queue.
func (s *Service) PendingFollowUps(ctx context.Context) ([]ledger.PendingFollowUp, error) {
	if s.queue == nil {
		return []ledger.PendingFollowUp{}, nil
	}
	return s.queue.Pending(ctx)
}

// RetryResult reports the outcome of a manual re-dispatch.
type RetryResult struct {
	EventID   uuid.UUID      `json:"event_id"`
	Outcome   router.Outcome `json:"outcome"`
	Error     string         `json:"error,omitempty"`
	FollowUps int            `json:"follow_ups"`
}

// RetryEvent re-dispatches an unprocessed event through the router. A
// projector that fails again is reported in the result, not as an error.
func (s *Service) RetryEvent(ctx context.Context, eventID uuid.UUID) (RetryResult, error) {
	evt, err := s.events.Get(ctx, eventID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return RetryResult{}, dErrors.Newf(dErrors.CodeNotFound, "event %s not found", eventID)
	}
	if err != nil {
		return RetryResult{}, err
	}
	if evt.Processed() {
		return RetryResult{}, dErrors.Newf(dErrors.CodeConflict, "event %s is already processed", eventID)
	}

	res, err := s.retrier.Retry(ctx, eventID)
	if err != nil {
		return RetryResult{}, err
	}
	out := RetryResult{EventID: eventID, Outcome: res.Outcome, FollowUps: len(res.FollowUps)}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	s.logger.InfoContext(ctx, "event re-dispatched",
		"event_id", eventID.String(),
		"event_type", string(evt.EventType),
		"outcome", string(res.Outcome),
		"previous_retries", evt.RetryCount,
	)
	return out, nil
}
