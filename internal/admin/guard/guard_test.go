package guard

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/suite"

	"clubadmin/internal/admin/models"
	dErrors "clubadmin/pkg/domain-errors"
)

// GuardSuite covers the gate decision and its HTTP rendering.
// The invariant "a loading session never yields allow or deny" must hold.
type GuardSuite struct {
	suite.Suite
	logger *slog.Logger
}

func TestGuardSuite(t *testing.T) {
	suite.Run(t, new(GuardSuite))
}

func (s *GuardSuite) SetupTest() {
	s.logger = slog.New(slog.DiscardHandler)
}

func (s *GuardSuite) TestDecide() {
	g := New(WithLogger(s.logger))
	cases := []struct {
		snap models.Snapshot
		want Outcome
	}{
		{models.Snapshot{State: models.StateLoading}, Loading},
		{models.Snapshot{State: models.StateSignedOut, Resolving: true}, Loading},
		{models.Snapshot{State: models.StateAuthenticated, Resolving: true}, Loading},
		{models.Snapshot{State: models.StateAuthenticated}, Allow},
		{models.Snapshot{State: models.StateSignedOut}, Deny},
		{models.Snapshot{State: models.StatePendingIdentity}, Deny},
		{models.Snapshot{State: models.StatePendingToken}, Deny},
	}
	for _, tc := range cases {
		s.Equal(tc.want, g.Decide(tc.snap), "state %s resolving %v", tc.snap.State, tc.snap.Resolving)
		s.Equal(tc.want == Allow, g.CanEnter(tc.snap))
	}
}

func (s *GuardSuite) TestDevBypass() {
	g := New(WithDevBypass(true), WithLogger(s.logger))
	for _, state := range []models.State{models.StateLoading, models.StateSignedOut, models.StatePendingToken} {
		s.True(g.CanEnter(models.Snapshot{State: state}))
	}
}

func (s *GuardSuite) serve(g *Gate, snap models.Snapshot, err error) (*httptest.ResponseRecorder, bool, *models.AdminProfileRecord) {
	called := false
	var admin *models.AdminProfileRecord
	handler := g.Require(func(*http.Request) (models.Snapshot, error) { return snap, err })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			admin = Admin(r.Context())
			w.WriteHeader(http.StatusOK)
		}),
	)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/me", nil))
	return w, called, admin
}

func (s *GuardSuite) TestRequire() {
	g := New(WithLogger(s.logger), WithLoginURL("/login"))

	s.Run("Given an authenticated session When requesting Then the handler sees the admin", func() {
		profile := &models.AdminProfileRecord{UID: "uid-1", Email: "admin@club.org"}
		w, called, admin := s.serve(g, models.Snapshot{State: models.StateAuthenticated, Admin: profile}, nil)
		s.True(called)
		s.Equal(http.StatusOK, w.Code)
		s.Equal(profile, admin)
	})

	s.Run("Given a resolving session When requesting Then 202 asks the client to retry", func() {
		w, called, _ := s.serve(g, models.Snapshot{State: models.StateLoading, Resolving: true}, nil)
		s.False(called)
		s.Equal(http.StatusAccepted, w.Code)
		s.Equal("1", w.Header().Get("Retry-After"))
		s.JSONEq(`{"status":"loading"}`, w.Body.String())
	})

	s.Run("Given a signed-out session When requesting Then 401 carries the login hint", func() {
		w, called, _ := s.serve(g, models.Snapshot{State: models.StateSignedOut}, nil)
		s.False(called)
		s.Equal(http.StatusUnauthorized, w.Code)
		var body loginHint
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &body))
		s.Equal("/login", body.LoginURL)
	})

	s.Run("Given the snapshot cannot be resolved When requesting Then the domain error is rendered", func() {
		w, called, _ := s.serve(g, models.Snapshot{}, dErrors.New(dErrors.CodeConflict, "busy"))
		s.False(called)
		s.Equal(http.StatusConflict, w.Code)

		w, _, _ = s.serve(g, models.Snapshot{}, errors.New("boom"))
		s.Equal(http.StatusInternalServerError, w.Code)
	})
}
