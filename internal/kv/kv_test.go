package kv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"clubadmin/internal/platform/sqlite"
)

// storeContract runs the same behaviour checks against every Store.
type storeContract struct {
	suite.Suite
	newStore func(t *testing.T) Store
	store    Store
	ctx      context.Context
}

func (s *storeContract) SetupTest() {
	s.ctx = context.Background()
	s.store = s.newStore(s.T())
}

func (s *storeContract) TestGetSetRemove() {
	s.Run("Given an absent key When Get Then ok is false", func() {
		_, ok, err := s.store.Get(s.ctx, "adminSession")
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("Given a stored value When Get Then it is returned", func() {
		s.Require().NoError(s.store.Set(s.ctx, "adminSession", `{"uid":"u1"}`))
		v, ok, err := s.store.Get(s.ctx, "adminSession")
		s.Require().NoError(err)
		s.True(ok)
		s.Equal(`{"uid":"u1"}`, v)
	})

	s.Run("Given a stored value When Set again Then it is overwritten", func() {
		s.Require().NoError(s.store.Set(s.ctx, "adminSession", `{"uid":"u2"}`))
		v, _, err := s.store.Get(s.ctx, "adminSession")
		s.Require().NoError(err)
		s.Equal(`{"uid":"u2"}`, v)
	})

	s.Run("When Remove twice Then both succeed", func() {
		s.Require().NoError(s.store.Remove(s.ctx, "adminSession"))
		s.Require().NoError(s.store.Remove(s.ctx, "adminSession"))
		_, ok, err := s.store.Get(s.ctx, "adminSession")
		s.Require().NoError(err)
		s.False(ok)
	})
}

func (s *storeContract) TestKeysAndScopes() {
	browserA := Scope(s.store, "browser-a")
	browserB := Scope(s.store, "browser-b")
	s.Require().NoError(browserA.Set(s.ctx, "adminSession", "a"))
	s.Require().NoError(browserB.Set(s.ctx, "adminSession", "b"))
	s.Require().NoError(s.store.Set(s.ctx, "csi_fallback_admins_u1", "{}"))
	s.Require().NoError(s.store.Set(s.ctx, "csi_fallback_adminOTPs_a%40b", "{}"))

	keys, err := s.store.Keys(s.ctx, "csi_fallback_")
	s.Require().NoError(err)
	s.ElementsMatch([]string{"csi_fallback_admins_u1", "csi_fallback_adminOTPs_a%40b"}, keys)

	scoped, err := browserA.Keys(s.ctx, "")
	s.Require().NoError(err)
	s.Equal([]string{"adminSession"}, scoped)

	v, _, err := browserB.Get(s.ctx, "adminSession")
	s.Require().NoError(err)
	s.Equal("b", v)

	s.Require().NoError(browserA.Clear(s.ctx))
	_, ok, err := browserA.Get(s.ctx, "adminSession")
	s.Require().NoError(err)
	s.False(ok)
	_, ok, err = browserB.Get(s.ctx, "adminSession")
	s.Require().NoError(err)
	s.True(ok, "clearing one scope leaves the other")
}

func TestInMemoryStore(t *testing.T) {
	suite.Run(t, &storeContract{newStore: func(*testing.T) Store { return NewInMemory() }})
}

func TestSQLiteStore(t *testing.T) {
	suite.Run(t, &storeContract{newStore: func(t *testing.T) Store {
		db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "local.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		store, err := NewSQLite(context.Background(), db)
		require.NoError(t, err)
		return store
	}})
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "local.db")

	db, err := sqlite.Open(ctx, path)
	require.NoError(t, err)
	store, err := NewSQLite(ctx, db)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "csi_fallback_admins_u1", `{"_fallback":true}`))
	require.NoError(t, db.Close())

	db, err = sqlite.Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()
	store, err = NewSQLite(ctx, db)
	require.NoError(t, err)
	v, ok, err := store.Get(ctx, "csi_fallback_admins_u1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"_fallback":true}`, v)
}
