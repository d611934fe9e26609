package resilient

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"clubadmin/internal/docstore"
	"clubadmin/internal/docstore/mocks"
	"clubadmin/internal/kv"
	"clubadmin/internal/platform/nethealth"
	dErrors "clubadmin/pkg/domain-errors"
	"clubadmin/pkg/platform/sentinel"
)

var (
	errUnavailable = &docstore.Error{Code: docstore.CodeUnavailable, Op: "set", Err: errors.New("connection refused")}
	errTransient   = &docstore.Error{Code: docstore.CodeInternal, Op: "get", Err: errors.New("serialization failure")}
	fixedNow       = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type AdapterSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	remote  *mocks.MockStore
	local   *kv.InMemoryStore
	health  *nethealth.Health
	sleeps  []time.Duration
	adapter *Adapter
	ctx     context.Context
}

func TestAdapterSuite(t *testing.T) {
	suite.Run(t, new(AdapterSuite))
}

func (s *AdapterSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.remote = mocks.NewMockStore(s.ctrl)
	s.local = kv.NewInMemory()
	s.health = nethealth.New()
	s.sleeps = nil
	s.ctx = context.Background()
	s.adapter = New(s.remote, s.local, s.health,
		WithLogger(slog.New(slog.DiscardHandler)),
		WithClock(func() time.Time { return fixedNow }),
		WithSleep(func(_ context.Context, d time.Duration) error {
			s.sleeps = append(s.sleeps, d)
			return nil
		}),
	)
}

func (s *AdapterSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *AdapterSuite) fallbackRecord(collection, id string) map[string]any {
	raw, ok, err := s.local.Get(s.ctx, FallbackKey(collection, id))
	s.Require().NoError(err)
	if !ok {
		return nil
	}
	var doc map[string]any
	s.Require().NoError(json.Unmarshal([]byte(raw), &doc))
	return doc
}

func (s *AdapterSuite) TestPerformWithFallback() {
	s.Run("Given a blocking failure When performing Then fallback runs once without retries", func() {
		s.SetupTest()
		primaryCalls, fallbackCalls := 0, 0

		got, src, err := PerformWithFallback(s.ctx, s.adapter, "test",
			func(context.Context) (string, error) { primaryCalls++; return "", errUnavailable },
			func(context.Context) (string, error) { fallbackCalls++; return "local", nil },
		)

		s.Require().NoError(err)
		s.Equal("local", got)
		s.Equal(SourceFallback, src)
		s.Equal(1, primaryCalls)
		s.Equal(1, fallbackCalls)
		s.Empty(s.sleeps)
		s.True(s.health.Unavailable())
	})

	s.Run("Given transient failures twice When performing Then the third attempt wins", func() {
		s.SetupTest()
		primaryCalls, fallbackCalls := 0, 0

		got, src, err := PerformWithFallback(s.ctx, s.adapter, "test",
			func(context.Context) (int, error) {
				primaryCalls++
				if primaryCalls < 3 {
					return 0, errTransient
				}
				return 42, nil
			},
			func(context.Context) (int, error) { fallbackCalls++; return 0, nil },
		)

		s.Require().NoError(err)
		s.Equal(42, got)
		s.Equal(SourceRemote, src)
		s.Equal(3, primaryCalls)
		s.Zero(fallbackCalls)
		s.Equal([]time.Duration{time.Second, 2 * time.Second}, s.sleeps)
		s.False(s.health.Degraded())
	})

	s.Run("Given every attempt fails When performing Then backoff skips the last wait and fallback serves", func() {
		s.SetupTest()
		_, src, err := PerformWithFallback(s.ctx, s.adapter, "test",
			func(context.Context) (int, error) { return 0, errTransient },
			func(context.Context) (int, error) { return 7, nil },
		)
		s.Require().NoError(err)
		s.Equal(SourceFallback, src)
		s.Equal([]time.Duration{time.Second, 2 * time.Second}, s.sleeps)
	})

	s.Run("Given the fallback fails When performing Then its error propagates", func() {
		s.SetupTest()
		fallbackFailure := dErrors.New(dErrors.CodeStoreUnavailable, "disk full")
		_, _, err := PerformWithFallback(s.ctx, s.adapter, "test",
			func(context.Context) (int, error) { return 0, errUnavailable },
			func(context.Context) (int, error) { return 0, fallbackFailure },
		)
		s.ErrorIs(err, fallbackFailure)
	})

	s.Run("Given no fallback When all attempts fail Then StoreUnavailable", func() {
		s.SetupTest()
		_, _, err := PerformWithFallback[int](s.ctx, s.adapter, "test",
			func(context.Context) (int, error) { return 0, errTransient },
			nil,
		)
		s.True(dErrors.HasCode(err, dErrors.CodeStoreUnavailable))
	})

	s.Run("Given a degraded store When performing Then primary is skipped", func() {
		s.SetupTest()
		s.health.SetOnline(false)
		primaryCalls := 0

		_, src, err := PerformWithFallback(s.ctx, s.adapter, "test",
			func(context.Context) (int, error) { primaryCalls++; return 1, nil },
			func(context.Context) (int, error) { return 2, nil },
		)
		s.Require().NoError(err)
		s.Equal(SourceFallback, src)
		s.Zero(primaryCalls)
	})

	s.Run("Given a not-found answer When performing Then no retry and no fallback", func() {
		s.SetupTest()
		primaryCalls, fallbackCalls := 0, 0
		_, _, err := PerformWithFallback(s.ctx, s.adapter, "test",
			func(context.Context) (int, error) {
				primaryCalls++
				return 0, &docstore.Error{Code: docstore.CodeNotFound, Op: "get"}
			},
			func(context.Context) (int, error) { fallbackCalls++; return 0, nil },
		)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		s.Equal(1, primaryCalls)
		s.Zero(fallbackCalls)
	})
}

func (s *AdapterSuite) TestSet() {
	s.Run("Given a healthy store When setting Then only the remote is written", func() {
		s.SetupTest()
		doc := docstore.Document{"role": "admin"}
		s.remote.EXPECT().Set(gomock.Any(), "admins", "u1", doc, true).Return(nil)

		src, err := s.adapter.Set(s.ctx, "admins", "u1", doc, true)

		s.Require().NoError(err)
		s.Equal(SourceRemote, src)
		s.Nil(s.fallbackRecord("admins", "u1"))
	})

	s.Run("Given a blocked store When setting Then a marked fallback record is written", func() {
		s.SetupTest()
		s.remote.EXPECT().Set(gomock.Any(), "admins", "u1", gomock.Any(), true).Return(errUnavailable).Times(1)

		src, err := s.adapter.Set(s.ctx, "admins", "u1", docstore.Document{"role": "admin"}, true)

		s.Require().NoError(err)
		s.Equal(SourceFallback, src)
		record := s.fallbackRecord("admins", "u1")
		s.Equal("admin", record["role"])
		s.Equal(true, record["_fallback"])
		s.Equal(float64(fixedNow.UnixMilli()), record["_timestamp"])
	})

	s.Run("Given a missing value When setting Then ValidationError before any attempt", func() {
		s.SetupTest()
		_, err := s.adapter.Set(s.ctx, "admins", "u1", docstore.Document{"photoURL": docstore.Missing}, true)

		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.ErrorIs(err, sentinel.ErrMissingValue)
		s.Nil(s.fallbackRecord("admins", "u1"))
	})

	s.Run("Given a collection with an underscore When setting Then ValidationError", func() {
		s.SetupTest()
		_, err := s.adapter.Set(s.ctx, "admin_profiles", "u1", docstore.Document{}, true)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("Given a pending fallback record When the store recovers Then it is pushed before the write", func() {
		s.SetupTest()
		s.health.MarkUnavailable()
		_, err := s.adapter.Set(s.ctx, "admins", "u1", docstore.Document{"verified": true}, true)
		s.Require().NoError(err)
		s.health.MarkAvailable()

		gomock.InOrder(
			s.remote.EXPECT().Set(gomock.Any(), "admins", "u1", docstore.Document{"verified": true}, true).Return(nil),
			s.remote.EXPECT().Set(gomock.Any(), "admins", "u1", docstore.Document{"lastLogin": "now"}, true).Return(nil),
		)
		_, err = s.adapter.Set(s.ctx, "admins", "u1", docstore.Document{"lastLogin": "now"}, true)
		s.Require().NoError(err)
		s.Nil(s.fallbackRecord("admins", "u1"))
	})
}

func (s *AdapterSuite) TestGetAndUpdate() {
	s.Run("Given a blocked store and a fallback record When getting Then markers are stripped", func() {
		s.SetupTest()
		s.health.MarkUnavailable()
		_, err := s.adapter.Set(s.ctx, "adminOTPs", "a%40club.org", docstore.Document{"used": false}, false)
		s.Require().NoError(err)

		doc, src, err := s.adapter.Get(s.ctx, "adminOTPs", "a%40club.org")

		s.Require().NoError(err)
		s.Equal(SourceFallback, src)
		s.Equal(docstore.Document{"used": false}, doc)
	})

	s.Run("Given a blocked store and no record When getting Then NotFound", func() {
		s.SetupTest()
		s.health.MarkUnavailable()
		_, _, err := s.adapter.Get(s.ctx, "adminOTPs", "nobody")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("Given a blocked store When updating a missing record Then NotFound", func() {
		s.SetupTest()
		s.health.MarkUnavailable()
		_, err := s.adapter.Update(s.ctx, "adminOTPs", "nobody", docstore.Document{"used": true})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("Given a blocked store When updating Then fields merge with a lastUpdated marker", func() {
		s.SetupTest()
		s.health.MarkUnavailable()
		_, err := s.adapter.Set(s.ctx, "adminOTPs", "k", docstore.Document{"used": false, "attempts": 0}, false)
		s.Require().NoError(err)

		_, err = s.adapter.Update(s.ctx, "adminOTPs", "k", docstore.Document{"attempts": 1})
		s.Require().NoError(err)

		record := s.fallbackRecord("adminOTPs", "k")
		s.Equal(float64(1), record["attempts"])
		s.Equal(false, record["used"])
		s.Contains(record, "_lastUpdated")
	})
}

func (s *AdapterSuite) TestDelete() {
	s.health.MarkUnavailable()
	_, err := s.adapter.Set(s.ctx, "adminOTPs", "k", docstore.Document{"used": true}, false)
	s.Require().NoError(err)
	s.health.MarkAvailable()

	s.remote.EXPECT().Delete(gomock.Any(), "adminOTPs", "k").Return(nil)
	src, err := s.adapter.Delete(s.ctx, "adminOTPs", "k")

	s.Require().NoError(err)
	s.Equal(SourceRemote, src)
	s.Nil(s.fallbackRecord("adminOTPs", "k"))
}

func TestSyncFallback(t *testing.T) {
	ctx := context.Background()
	remote := docstore.NewInMemory()
	local := kv.NewInMemory()
	health := nethealth.New()
	adapter := New(remote, local, health, WithLogger(slog.New(slog.DiscardHandler)))

	health.MarkUnavailable()
	_, err := adapter.Set(ctx, "admins", "u1", docstore.Document{"verified": true}, true)
	require.NoError(t, err)
	_, err = adapter.Set(ctx, "adminOTPs", "a%40club.org", docstore.Document{"used": false}, false)
	require.NoError(t, err)

	res, err := adapter.SyncFallback(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	health.MarkAvailable()
	res, err = adapter.SyncFallback(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Synced)

	doc, err := remote.Get(ctx, "admins", "u1")
	require.NoError(t, err)
	assert.Equal(t, docstore.Document{"verified": true}, doc)
	keys, err := local.Keys(ctx, FallbackPrefix)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestIsBlockingError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable code", &docstore.Error{Code: docstore.CodeUnavailable}, true},
		{"permission denied code", &docstore.Error{Code: docstore.CodePermissionDenied}, true},
		{"blocked by client", errors.New("net::ERR_BLOCKED_BY_CLIENT"), true},
		{"failed to fetch", errors.New("TypeError: Failed to fetch"), true},
		{"network message", errors.New("Network request failed"), true},
		{"transient internal", errTransient, false},
		{"not found", &docstore.Error{Code: docstore.CodeNotFound}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsBlockingError(tt.err))
		})
	}
}

func TestParseFallbackKey(t *testing.T) {
	c, id, ok := ParseFallbackKey(FallbackKey("adminOTPs", "first_last%40club.org"))
	require.True(t, ok)
	assert.Equal(t, "adminOTPs", c)
	assert.Equal(t, "first_last%40club.org", id)

	_, _, ok = ParseFallbackKey("adminSession")
	assert.False(t, ok)
	_, _, ok = ParseFallbackKey(FallbackPrefix + "admins")
	assert.False(t, ok)
}

func TestDetectBlockingExtensions(t *testing.T) {
	reachable := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer reachable.Close()

	release := make(chan struct{})
	hanging := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer hanging.Close()
	defer close(release)

	refused := httptest.NewServer(http.NotFoundHandler())
	refusedURL := refused.URL
	refused.Close()

	t.Run("all endpoints reachable", func(t *testing.T) {
		health := nethealth.New()
		adapter := New(docstore.NewInMemory(), kv.NewInMemory(), health,
			WithLogger(slog.New(slog.DiscardHandler)),
			WithReachabilityChecks(reachable.Client(), []string{reachable.URL + "/test"}, time.Second))

		res, err := adapter.DetectBlockingExtensions(context.Background())

		require.NoError(t, err)
		assert.False(t, res.HasBlocker)
		assert.Empty(t, res.BlockedEndpoints)
		assert.Empty(t, res.Suggestions)
		assert.False(t, health.Unavailable())
	})

	t.Run("timeouts and refused connections count as blocked", func(t *testing.T) {
		health := nethealth.New()
		endpoints := []string{reachable.URL + "/test", hanging.URL + "/test", refusedURL + "/test"}
		adapter := New(docstore.NewInMemory(), kv.NewInMemory(), health,
			WithLogger(slog.New(slog.DiscardHandler)),
			WithReachabilityChecks(&http.Client{}, endpoints, 100*time.Millisecond))

		res, err := adapter.DetectBlockingExtensions(context.Background())

		require.NoError(t, err)
		assert.True(t, res.HasBlocker)
		assert.Equal(t, []string{hanging.URL + "/test", refusedURL + "/test"}, res.BlockedEndpoints)
		assert.Equal(t, Suggestions, res.Suggestions)
		assert.True(t, health.Unavailable())
	})
}
