package docstore

import (
	"context"
	"errors"
	"testing"

	"clubadmin/pkg/platform/sentinel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func (s *InMemoryStoreSuite) TestGet() {
	s.Run("Given no document When Get Then not-found", func() {
		_, err := s.store.Get(s.ctx, "admins", "u1")
		s.Equal(CodeNotFound, CodeOf(err))
		s.True(errors.Is(err, sentinel.ErrNotFound))
	})

	s.Run("Given a document When mutating the returned map Then the store is unchanged", func() {
		s.Require().NoError(s.store.Set(s.ctx, "admins", "u1", Document{"role": "admin"}, false))
		doc, err := s.store.Get(s.ctx, "admins", "u1")
		s.Require().NoError(err)
		doc["role"] = "viewer"

		again, err := s.store.Get(s.ctx, "admins", "u1")
		s.Require().NoError(err)
		s.Equal("admin", again["role"])
	})
}

func (s *InMemoryStoreSuite) TestSet() {
	s.Run("Given merge When setting Then existing fields survive", func() {
		s.Require().NoError(s.store.Set(s.ctx, "admins", "u2", Document{"email": "a@club.org", "verified": true}, false))
		s.Require().NoError(s.store.Set(s.ctx, "admins", "u2", Document{"lastLogin": "now"}, true))

		doc, err := s.store.Get(s.ctx, "admins", "u2")
		s.Require().NoError(err)
		s.Equal(Document{"email": "a@club.org", "verified": true, "lastLogin": "now"}, doc)
	})

	s.Run("Given no merge When setting Then the document is replaced", func() {
		s.Require().NoError(s.store.Set(s.ctx, "admins", "u2", Document{"email": "b@club.org"}, false))
		doc, err := s.store.Get(s.ctx, "admins", "u2")
		s.Require().NoError(err)
		s.Equal(Document{"email": "b@club.org"}, doc)
	})

	s.Run("Given a missing value When setting Then invalid-argument", func() {
		err := s.store.Set(s.ctx, "admins", "u3", Document{"name": Missing}, true)
		s.Equal(CodeInvalidArgument, CodeOf(err))
		_, getErr := s.store.Get(s.ctx, "admins", "u3")
		s.Equal(CodeNotFound, CodeOf(getErr))
	})
}

func (s *InMemoryStoreSuite) TestUpdate() {
	s.Run("Given no document When updating Then not-found", func() {
		err := s.store.Update(s.ctx, "adminOTPs", "x", Document{"used": true})
		s.Equal(CodeNotFound, CodeOf(err))
	})

	s.Run("Given a document When updating Then fields merge", func() {
		s.Require().NoError(s.store.Set(s.ctx, "adminOTPs", "x", Document{"used": false, "attempts": 0}, false))
		s.Require().NoError(s.store.Update(s.ctx, "adminOTPs", "x", Document{"attempts": 1}))

		doc, err := s.store.Get(s.ctx, "adminOTPs", "x")
		s.Require().NoError(err)
		s.Equal(false, doc["used"])
		s.Equal(float64(1), doc["attempts"])
	})
}

func (s *InMemoryStoreSuite) TestDeleteAndList() {
	s.Require().NoError(s.store.Set(s.ctx, "adminOTPs", "a", Document{"n": 1}, false))
	s.Require().NoError(s.store.Set(s.ctx, "adminOTPs", "b", Document{"n": 2}, false))
	s.Require().NoError(s.store.Delete(s.ctx, "adminOTPs", "a"))
	s.Require().NoError(s.store.Delete(s.ctx, "adminOTPs", "never-existed"))

	docs, err := s.store.List(s.ctx, "adminOTPs")
	s.Require().NoError(err)
	s.Len(docs, 1)
	s.Contains(docs, "b")
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(Document{"a": 1, "b": map[string]any{"c": []any{"x"}}}))

	err := Validate(Document{"profile": map[string]any{"photo": Missing}})
	require.ErrorIs(t, err, sentinel.ErrMissingValue)
	assert.Contains(t, err.Error(), "profile.photo")

	err = Validate(Document{"tags": []any{"ok", Missing}})
	require.ErrorIs(t, err, sentinel.ErrMissingValue)
	assert.Contains(t, err.Error(), "tags[1]")
}

func TestEncodeDecode(t *testing.T) {
	type record struct {
		Email  string `json:"email"`
		Expiry int64  `json:"expiryTime"`
		Used   bool   `json:"used"`
	}
	doc, err := Encode(record{Email: "a@club.org", Expiry: 1760000000000, Used: true})
	require.NoError(t, err)
	assert.Equal(t, float64(1760000000000), doc["expiryTime"])

	var out record
	require.NoError(t, Decode(doc, &out))
	assert.Equal(t, int64(1760000000000), out.Expiry)
	assert.True(t, out.Used)
}

func TestErrorIsSentinels(t *testing.T) {
	err := &Error{Code: CodeUnavailable, Op: "get"}
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
	assert.NotErrorIs(t, err, sentinel.ErrNotFound)
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
}
