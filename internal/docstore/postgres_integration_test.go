//go:build integration

package docstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"clubadmin/internal/docstore"
	"clubadmin/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *docstore.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = docstore.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "documents"))
}

func (s *PostgresStoreSuite) TestMergeSet() {
	ctx := context.Background()
	s.Require().NoError(s.store.Set(ctx, "admins", "u1", docstore.Document{"email": "a@club.org", "verified": true}, false))
	s.Require().NoError(s.store.Set(ctx, "admins", "u1", docstore.Document{"lastLogin": "2026-01-01T00:00:00Z"}, true))

	doc, err := s.store.Get(ctx, "admins", "u1")
	s.Require().NoError(err)
	s.Equal(true, doc["verified"])
	s.Equal("2026-01-01T00:00:00Z", doc["lastLogin"])

	s.Require().NoError(s.store.Set(ctx, "admins", "u1", docstore.Document{"email": "b@club.org"}, false))
	doc, err = s.store.Get(ctx, "admins", "u1")
	s.Require().NoError(err)
	s.Equal(docstore.Document{"email": "b@club.org"}, doc)
}

func (s *PostgresStoreSuite) TestUpdateMissingIsNotFound() {
	err := s.store.Update(context.Background(), "adminOTPs", "nobody", docstore.Document{"used": true})
	s.Equal(docstore.CodeNotFound, docstore.CodeOf(err))
}

func (s *PostgresStoreSuite) TestMissingValueRejected() {
	err := s.store.Set(context.Background(), "admins", "u2", docstore.Document{"name": docstore.Missing}, true)
	s.Equal(docstore.CodeInvalidArgument, docstore.CodeOf(err))
}

func (s *PostgresStoreSuite) TestListAndDelete() {
	ctx := context.Background()
	s.Require().NoError(s.store.Set(ctx, "adminOTPs", "a", docstore.Document{"used": true}, false))
	s.Require().NoError(s.store.Set(ctx, "adminOTPs", "b", docstore.Document{"used": false}, false))
	s.Require().NoError(s.store.Set(ctx, "admins", "c", docstore.Document{"role": "admin"}, false))
	s.Require().NoError(s.store.Delete(ctx, "adminOTPs", "a"))

	docs, err := s.store.List(ctx, "adminOTPs")
	s.Require().NoError(err)
	s.Len(docs, 1)
	s.Contains(docs, "b")
}
