package admin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"carebase/internal/eventstore"
	"carebase/internal/ledger"
	"carebase/internal/router"
	dErrors "carebase/pkg/domain-errors"
	"carebase/pkg/requestcontext"
)

// flakyProjector fails every widget event while broken is set.
type flakyProjector struct {
	broken bool
}

func (p *flakyProjector) Name() string                         { return "widgets" }
func (p *flakyProjector) StreamTypes() []eventstore.StreamType { return []eventstore.StreamType{"widget"} }
func (p *flakyProjector) EventTypes() []eventstore.EventType {
	return []eventstore.EventType{"widget.created"}
}

func (p *flakyProjector) Apply(context.Context, eventstore.Event, router.Emitter) error {
	if p.broken {
		return errors.New("read model unavailable")
	}
	return nil
}

type ServiceSuite struct {
	suite.Suite
	ctx       context.Context
	store     *eventstore.InMemoryStore
	projector *flakyProjector
	ledger    *ledger.Ledger
	service   *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	s.store = eventstore.NewInMemoryStore()
	s.projector = &flakyProjector{}

	registry, err := router.NewRegistry(s.projector)
	s.Require().NoError(err)
	r, err := router.New(s.store, registry, router.WithLogger(discardLogger()))
	s.Require().NoError(err)
	s.ledger, err = ledger.New(s.store, r, ledger.WithLogger(discardLogger()))
	s.Require().NoError(err)
	s.service, err = NewService(s.store, s.ledger, WithLogger(discardLogger()), WithQueue(ledger.NewInMemoryQueue()))
	s.Require().NoError(err)
}

func (s *ServiceSuite) appendWidget() eventstore.Event {
	evt, err := s.ledger.Append(s.ctx, ledger.AppendRequest{
		StreamID:   uuid.New(),
		StreamType: "widget",
		EventType:  "widget.created",
		Payload:    map[string]string{"name": "gear"},
	})
	s.Require().NoError(err)
	return evt
}

func (s *ServiceSuite) TestFailedEventCanBeRetried() {
	s.projector.broken = true
	failed := s.appendWidget()
	s.Require().True(failed.Failed())

	unprocessed, err := s.service.GetUnprocessedEvents(s.ctx, 0)
	s.Require().NoError(err)
	s.Require().Len(unprocessed, 1)
	s.Equal(failed.ID, unprocessed[0].ID)

	stats, err := s.service.ProcessingStats(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(stats, 1)
	s.Equal(1, stats[0].Failed)

	res, err := s.service.RetryEvent(s.ctx, failed.ID)
	s.Require().NoError(err, "a repeated projection failure is reported in the result")
	s.Equal(router.OutcomeFailed, res.Outcome)
	s.NotEmpty(res.Error)

	s.projector.broken = false
	res, err = s.service.RetryEvent(s.ctx, failed.ID)
	s.Require().NoError(err)
	s.Equal(router.OutcomeProcessed, res.Outcome)
	s.Empty(res.Error)

	unprocessed, err = s.service.GetUnprocessedEvents(s.ctx, 10)
	s.Require().NoError(err)
	s.Empty(unprocessed)

	_, err = s.service.RetryEvent(s.ctx, failed.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestRetryUnknownEvent() {
	_, err := s.service.RetryEvent(s.ctx, uuid.New())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestEntityHistory() {
	evt := s.appendWidget()

	history, err := s.service.GetEntityHistory(s.ctx, evt.StreamID)
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	s.Equal(evt.ID, history[0].ID)

	_, err = s.service.GetEntityHistory(s.ctx, uuid.New())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.service.GetEntityHistory(s.ctx, uuid.Nil)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *ServiceSuite) TestPendingFollowUpsEmpty() {
	pending, err := s.service.PendingFollowUps(s.ctx)
	s.Require().NoError(err)
	s.Empty(pending)
}
