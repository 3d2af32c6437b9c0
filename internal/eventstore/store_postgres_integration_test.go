//go:build integration

package eventstore

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"carebase/internal/platform/postgres"
	dErrors "carebase/pkg/domain-errors"
	"carebase/pkg/requestcontext"
	"carebase/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	store *PostgresStore
	ctx   context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	pg := containers.NewPostgresContainer(s.T())
	ctx := context.Background()
	db, err := postgres.Open(ctx, pg.URL, postgres.Options{MaxOpenConns: 4})
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = db.Close() })
	s.Require().NoError(postgres.Migrate(ctx, db, slog.New(slog.NewTextHandler(io.Discard, nil))))

	s.store = NewPostgresStore(db)
	s.ctx = requestcontext.WithTime(ctx, time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC))
}

func (s *PostgresStoreSuite) TestAppendAndReadBack() {
	stream := uuid.New()
	first, err := s.store.Append(s.ctx, newOrgEvent(stream, 1, "organization.created"))
	s.Require().NoError(err)
	_, err = s.store.Append(s.ctx, newOrgEvent(stream, 2, "organization.updated"))
	s.Require().NoError(err)

	got, err := s.store.Get(s.ctx, first.ID)
	s.Require().NoError(err)
	s.Equal(first.ID, got.ID)
	s.Equal(EventType("organization.created"), got.EventType)
	s.Equal("corr-1", got.Metadata.CorrelationID)
	s.JSONEq(`{"name":"Acme Care"}`, string(got.Payload))

	events, err := s.store.ListByStream(s.ctx, stream, "organization")
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Less(events[0].Sequence, events[1].Sequence)

	version, err := s.store.StreamVersion(s.ctx, stream, "organization")
	s.Require().NoError(err)
	s.Equal(2, version)
}

func (s *PostgresStoreSuite) TestDuplicateVersionIsConcurrencyConflict() {
	stream := uuid.New()
	_, err := s.store.Append(s.ctx, newOrgEvent(stream, 1, "organization.created"))
	s.Require().NoError(err)

	_, err = s.store.Append(s.ctx, newOrgEvent(stream, 1, "organization.updated"))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConcurrencyConflict))
}

func (s *PostgresStoreSuite) TestProcessingStatus() {
	stream := uuid.New()
	ok, err := s.store.Append(s.ctx, newOrgEvent(stream, 1, "organization.created"))
	s.Require().NoError(err)
	bad, err := s.store.Append(s.ctx, newOrgEvent(stream, 2, "organization.updated"))
	s.Require().NoError(err)

	s.Require().NoError(s.store.MarkProcessed(s.ctx, ok.ID, time.Now().UTC()))
	s.Require().NoError(s.store.MarkFailed(s.ctx, bad.ID, "projection exploded"))

	failed, err := s.store.Get(s.ctx, bad.ID)
	s.Require().NoError(err)
	s.True(failed.Failed())
	s.Equal(1, failed.RetryCount)

	maxProcessed, err := s.store.MaxProcessedVersion(s.ctx, stream, "organization")
	s.Require().NoError(err)
	s.Equal(1, maxProcessed)

	pending, err := s.store.ListUnprocessed(s.ctx, 100)
	s.Require().NoError(err)
	var ids []uuid.UUID
	for _, e := range pending {
		ids = append(ids, e.ID)
	}
	s.Contains(ids, bad.ID)
	s.NotContains(ids, ok.ID)
}
