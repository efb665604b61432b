//go:build integration

package outbox_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"regdesk/internal/notify"
	"regdesk/internal/notify/outbox"
	"regdesk/pkg/testutil/containers"
)

type PostgresOutboxSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *outbox.PostgresStore
	ctx      context.Context
}

func TestPostgresOutboxSuite(t *testing.T) {
	suite.Run(t, new(PostgresOutboxSuite))
}

func (s *PostgresOutboxSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = outbox.NewPostgresStore(s.postgres.DB)
}

func (s *PostgresOutboxSuite) SetupTest() {
	s.ctx = context.Background()
	s.Require().NoError(s.postgres.TruncateAll(s.ctx))
}

func (s *PostgresOutboxSuite) entry(age time.Duration) *outbox.Entry {
	return &outbox.Entry{
		ID:        uuid.New(),
		Kind:      notify.KindManualReview,
		Payload:   []byte(`{"kind":"manual_review"}`),
		CreatedAt: time.Now().UTC().Add(-age),
	}
}

func (s *PostgresOutboxSuite) TestFetchOldestFirst() {
	newer, older := s.entry(time.Minute), s.entry(time.Hour)
	s.Require().NoError(s.store.Append(s.ctx, newer))
	s.Require().NoError(s.store.Append(s.ctx, older))

	entries, err := s.store.FetchUnprocessed(s.ctx, 10)

	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal(older.ID, entries[0].ID)
	s.Equal(notify.KindManualReview, entries[0].Kind)
	s.JSONEq(`{"kind":"manual_review"}`, string(entries[0].Payload))
}

func (s *PostgresOutboxSuite) TestMarkProcessedOnce() {
	e := s.entry(0)
	s.Require().NoError(s.store.Append(s.ctx, e))

	s.Require().NoError(s.store.MarkProcessed(s.ctx, e.ID, time.Now()))
	s.Error(s.store.MarkProcessed(s.ctx, e.ID, time.Now()))

	pending, err := s.store.CountPending(s.ctx)
	s.Require().NoError(err)
	s.Zero(pending)
}

func (s *PostgresOutboxSuite) TestDuplicateAppendIsIgnored() {
	e := s.entry(0)
	s.Require().NoError(s.store.Append(s.ctx, e))
	s.Require().NoError(s.store.Append(s.ctx, e))

	pending, err := s.postgres.PendingOutbox(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, pending, "ON CONFLICT keeps a single row")
}

func (s *PostgresOutboxSuite) TestDeleteProcessedBefore() {
	e := s.entry(0)
	s.Require().NoError(s.store.Append(s.ctx, e))
	s.Require().NoError(s.store.MarkProcessed(s.ctx, e.ID, time.Now().Add(-48*time.Hour)))
	s.Require().NoError(s.store.Append(s.ctx, s.entry(0)))

	n, err := s.store.DeleteProcessedBefore(s.ctx, time.Now().Add(-24*time.Hour))

	s.Require().NoError(err)
	s.EqualValues(1, n)
	pending, err := s.store.CountPending(s.ctx)
	s.Require().NoError(err)
	s.EqualValues(1, pending)
}
