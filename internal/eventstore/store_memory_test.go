package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	dErrors "carebase/pkg/domain-errors"
	"carebase/pkg/platform/sentinel"
	"carebase/pkg/requestcontext"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
	now   time.Time
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.now = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func newOrgEvent(stream uuid.UUID, version int, eventType EventType) NewEvent {
	return NewEvent{
		StreamID:      stream,
		StreamType:    "organization",
		StreamVersion: version,
		EventType:     eventType,
		Payload:       json.RawMessage(`{"name":"Acme Care"}`),
		Metadata:      Metadata{UserID: "admin-1", CorrelationID: "corr-1"},
	}
}

func (s *InMemoryStoreSuite) TestAppendAssignsIdentity() {
	stream := uuid.New()
	first, err := s.store.Append(s.ctx, newOrgEvent(stream, 1, "organization.created"))
	s.Require().NoError(err)
	second, err := s.store.Append(s.ctx, newOrgEvent(stream, 2, "organization.updated"))
	s.Require().NoError(err)

	s.NotEqual(uuid.Nil, first.ID)
	s.Equal(int64(1), first.Sequence)
	s.Equal(int64(2), second.Sequence)
	s.Equal(s.now, first.CreatedAt)
	s.Nil(first.ProcessedAt)
	s.Zero(first.RetryCount)
}

func (s *InMemoryStoreSuite) TestAppendValidation() {
	stream := uuid.New()
	cases := map[string]NewEvent{
		"uppercase event type": newOrgEvent(stream, 1, "Organization.Created"),
		"single segment":       newOrgEvent(stream, 1, "created"),
		"trailing dot":         newOrgEvent(stream, 1, "organization."),
		"zero version":         newOrgEvent(stream, 0, "organization.created"),
	}
	empty := newOrgEvent(stream, 1, "organization.created")
	empty.Payload = nil
	cases["missing payload"] = empty
	emptyObject := newOrgEvent(stream, 1, "organization.created")
	emptyObject.Payload = json.RawMessage(`{}`)
	cases["empty object payload"] = emptyObject
	array := newOrgEvent(stream, 1, "organization.created")
	array.Payload = json.RawMessage(`[1]`)
	cases["non-object payload"] = array
	nilStream := newOrgEvent(uuid.Nil, 1, "organization.created")
	cases["nil stream"] = nilStream

	for name, ev := range cases {
		s.Run(name, func() {
			_, err := s.store.Append(s.ctx, ev)
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}

	all, err := s.store.ListByStream(s.ctx, stream, "organization")
	s.Require().NoError(err)
	s.Empty(all, "rejected events are never stored")
}

func (s *InMemoryStoreSuite) TestDuplicateVersionIsConflict() {
	stream := uuid.New()
	_, err := s.store.Append(s.ctx, newOrgEvent(stream, 1, "organization.created"))
	s.Require().NoError(err)

	_, err = s.store.Append(s.ctx, newOrgEvent(stream, 1, "organization.updated"))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConcurrencyConflict))
	s.True(errors.Is(err, sentinel.ErrConflict))

	s.Run("same version on another stream type is independent", func() {
		other := newOrgEvent(stream, 1, "role.created")
		other.StreamType = "role"
		_, err := s.store.Append(s.ctx, other)
		s.Require().NoError(err)
	})
}

func (s *InMemoryStoreSuite) TestConcurrentAppendsSameVersion() {
	stream := uuid.New()
	const writers = 40
	var wg sync.WaitGroup
	var ok, conflicts atomic.Int32
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Append(s.ctx, newOrgEvent(stream, 1, "organization.created"))
			switch {
			case err == nil:
				ok.Add(1)
			case dErrors.HasCode(err, dErrors.CodeConcurrencyConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), ok.Load())
	s.Equal(int32(writers-1), conflicts.Load())
}

func (s *InMemoryStoreSuite) TestProcessingStatus() {
	stream := uuid.New()
	e1, _ := s.store.Append(s.ctx, newOrgEvent(stream, 1, "organization.created"))
	e2, _ := s.store.Append(s.ctx, newOrgEvent(stream, 2, "organization.updated"))

	s.Require().NoError(s.store.MarkProcessed(s.ctx, e1.ID, s.now))
	s.Require().NoError(s.store.MarkFailed(s.ctx, e2.ID, "boom"))
	s.Require().NoError(s.store.MarkFailed(s.ctx, e2.ID, "boom again"))

	v, err := s.store.MaxProcessedVersion(s.ctx, stream, "organization")
	s.Require().NoError(err)
	s.Equal(1, v)
	v, err = s.store.StreamVersion(s.ctx, stream, "organization")
	s.Require().NoError(err)
	s.Equal(2, v)

	got, err := s.store.Get(s.ctx, e2.ID)
	s.Require().NoError(err)
	s.Equal(2, got.RetryCount)
	s.Require().NotNil(got.ProcessingError)
	s.Equal("boom again", *got.ProcessingError)
	s.True(got.Failed())

	unprocessed, err := s.store.ListUnprocessed(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(unprocessed, 1)
	s.Equal(e2.ID, unprocessed[0].ID)

	s.Require().NoError(s.store.MarkProcessed(s.ctx, e2.ID, s.now))
	got, _ = s.store.Get(s.ctx, e2.ID)
	s.Nil(got.ProcessingError)
	s.True(got.Processed())

	stats, err := s.store.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal([]StreamTypeStats{{StreamType: "organization", Total: 2, Processed: 2}}, stats)

	s.ErrorIs(s.store.MarkProcessed(s.ctx, uuid.New(), s.now), sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestQueries() {
	org := uuid.New()
	_, _ = s.store.Append(s.ctx, newOrgEvent(org, 1, "organization.bootstrap.initiated"))
	_, _ = s.store.Append(s.ctx, newOrgEvent(org, 2, "organization.bootstrap.completed"))
	role := newOrgEvent(org, 1, "role.created")
	role.StreamType = "role"
	role.Metadata.CorrelationID = "corr-2"
	_, _ = s.store.Append(s.ctx, role)

	s.Run("by stream id spans stream types", func() {
		got, err := s.store.ListByStreamID(s.ctx, org)
		s.Require().NoError(err)
		s.Len(got, 3)
	})

	s.Run("by correlation id", func() {
		got, err := s.store.ListByCorrelationID(s.ctx, "corr-1")
		s.Require().NoError(err)
		s.Len(got, 2)
		got, err = s.store.ListByCorrelationID(s.ctx, "")
		s.Require().NoError(err)
		s.Empty(got)
	})

	s.Run("by type prefix newest first", func() {
		got, err := s.store.ListByTypePrefix(s.ctx, "organization.bootstrap.", Page{Limit: 1, Newest: true})
		s.Require().NoError(err)
		s.Require().Len(got, 1)
		s.Equal(EventType("organization.bootstrap.completed"), got[0].EventType)
	})

	s.Run("by sequence range", func() {
		got, err := s.store.ListBySequenceRange(s.ctx, 2, 3)
		s.Require().NoError(err)
		s.Len(got, 2)
		s.Equal(int64(2), got[0].Sequence)
	})
}

func (s *InMemoryStoreSuite) TestReturnedEventsAreCopies() {
	stream := uuid.New()
	e, _ := s.store.Append(s.ctx, newOrgEvent(stream, 1, "organization.created"))
	e.Payload[0] = 'X'

	got, err := s.store.Get(s.ctx, e.ID)
	s.Require().NoError(err)
	s.JSONEq(`{"name":"Acme Care"}`, string(got.Payload))
}
