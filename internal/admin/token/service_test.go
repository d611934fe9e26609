package token

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"

	"clubadmin/internal/admin/email"
	"clubadmin/internal/admin/email/mocks"
	"clubadmin/internal/admin/models"
	"clubadmin/internal/docstore"
	"clubadmin/internal/kv"
	"clubadmin/internal/platform/nethealth"
	"clubadmin/internal/resilient"
	dErrors "clubadmin/pkg/domain-errors"
	"clubadmin/pkg/platform/sentinel"
	"clubadmin/pkg/testutil"
)

const adminEmail = "admin@club.org"

type ServiceSuite struct {
	suite.Suite
	ctx     context.Context
	ctrl    *gomock.Controller
	sender  *mocks.MockSender
	remote  *docstore.InMemoryStore
	local   *kv.InMemoryStore
	health  *nethealth.Health
	adapter *resilient.Adapter
	now     time.Time
	service *Service
	sent    []email.Message
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.sender = mocks.NewMockSender(s.ctrl)
	s.remote = docstore.NewInMemory()
	s.local = kv.NewInMemory()
	s.health = nethealth.New()
	s.adapter = resilient.New(s.remote, s.local, s.health,
		resilient.WithLogger(slog.New(slog.DiscardHandler)),
		resilient.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.sent = nil
	s.service = s.newService()
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) newService(opts ...Option) *Service {
	base := []Option{
		WithLogger(slog.New(slog.DiscardHandler)),
		WithClock(func() time.Time { return s.now }),
		WithGenerator(func() (string, error) { return "123456", nil }),
	}
	svc, err := New(s.adapter, s.sender, append(base, opts...)...)
	s.Require().NoError(err)
	return svc
}

func (s *ServiceSuite) expectSend() {
	s.sender.EXPECT().Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msg email.Message) (*email.SendResult, error) {
			s.sent = append(s.sent, msg)
			return &email.SendResult{Accepted: true}, nil
		})
}

func (s *ServiceSuite) issue() {
	s.expectSend()
	res, err := s.service.Issue(s.ctx, adminEmail, "Ada")
	s.Require().NoError(err)
	s.Require().True(res.Sent)
}

func (s *ServiceSuite) record() models.TokenRecord {
	doc, _, err := s.adapter.Get(s.ctx, models.CollectionTokens, Key(adminEmail))
	s.Require().NoError(err)
	var rec models.TokenRecord
	s.Require().NoError(docstore.Decode(doc, &rec))
	return rec
}

func (s *ServiceSuite) TestIssue() {
	s.Run("Given a valid email When issuing Then a hashed record is stored and the code is emailed", func() {
		s.issue()

		rec := s.record()
		s.Equal(adminEmail, rec.Email)
		s.NotEqual("123456", rec.TokenHash)
		s.True(SHA256Hasher{}.Matches(rec.TokenHash, "123456"))
		s.Equal(s.now.Add(10*time.Minute).UnixMilli(), rec.ExpiryTime)
		s.Equal(s.now.UnixMilli(), rec.CreatedAt)
		s.False(rec.Used)
		s.Zero(rec.Attempts)

		s.Require().Len(s.sent, 1)
		msg := s.sent[0]
		s.Equal(adminEmail, msg.To)
		s.Equal("Ada", msg.Name)
		s.Equal(Subject, msg.Subject)
		s.Contains(msg.Body, "Hello Ada,")
		s.Contains(msg.Body, "123456")
		s.Contains(msg.Body, "valid for 10 minutes")
	})

	s.Run("Given a mixed-case email When issuing Then the record is keyed by the normalized address", func() {
		s.expectSend()
		_, err := s.service.Issue(s.ctx, "  Admin@Club.ORG ", "")
		s.Require().NoError(err)

		_, err = s.remote.Get(s.ctx, models.CollectionTokens, "admin%40club.org")
		s.NoError(err)
		s.Equal("Admin", s.sent[len(s.sent)-1].Name)
	})

	s.Run("Given an invalid email When issuing Then validation fails before any write", func() {
		_, err := s.service.Issue(s.ctx, "not-an-email", "x")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("Given a rejected email When issuing Then Sent is false and the record remains", func() {
		s.remote = docstore.NewInMemory()
		s.adapter = resilient.New(s.remote, s.local, s.health, resilient.WithLogger(slog.New(slog.DiscardHandler)))
		s.service = s.newService()
		s.sender.EXPECT().Send(gomock.Any(), gomock.Any()).
			Return(&email.SendResult{Accepted: false, Detail: "quota"}, dErrors.New(dErrors.CodeEmailDelivery, "quota"))

		res, err := s.service.Issue(s.ctx, adminEmail, "Ada")
		s.True(dErrors.HasCode(err, dErrors.CodeEmailDelivery))
		s.Require().NotNil(res)
		s.False(res.Sent)
		s.Require().NoError(s.service.Verify(s.ctx, adminEmail, "123456"), "record survives a delivery failure")
	})

	s.Run("Given the sender returns no result When issuing Then it is a delivery failure", func() {
		s.sender.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil, nil)
		res, err := s.service.Issue(s.ctx, adminEmail, "Ada")
		s.True(dErrors.HasCode(err, dErrors.CodeEmailDelivery))
		s.False(res.Sent)
	})

	s.Run("Given a re-issue When verifying Then only the newest code matches", func() {
		s.issue()
		s.service = s.newService(WithGenerator(func() (string, error) { return "654321", nil }))
		s.issue()

		s.True(dErrors.HasCode(s.service.Verify(s.ctx, adminEmail, "123456"), dErrors.CodeInvalidToken))
		s.NoError(s.service.Verify(s.ctx, adminEmail, "654321"))
	})
}

func (s *ServiceSuite) TestVerify() {
	s.Run("Given no record When verifying Then TokenNotFound", func() {
		err := s.service.Verify(s.ctx, "nobody@club.org", "123456")
		s.True(dErrors.HasCode(err, dErrors.CodeTokenNotFound))
	})

	s.Run("Given the correct code When verifying twice Then it succeeds once and then AlreadyUsed", func() {
		s.issue()
		s.Require().NoError(s.service.Verify(s.ctx, adminEmail, "123456"))

		rec := s.record()
		s.True(rec.Used)
		s.Equal(1, rec.Attempts)

		err := s.service.Verify(s.ctx, adminEmail, "123456")
		s.True(dErrors.HasCode(err, dErrors.CodeTokenAlreadyUsed))
	})

	s.Run("Given a used record When verifying any input Then AlreadyUsed and attempts are unchanged", func() {
		s.issue()
		s.Require().NoError(s.service.Verify(s.ctx, adminEmail, "123456"))
		for _, input := range []string{"123456", "000000", ""} {
			s.True(dErrors.HasCode(s.service.Verify(s.ctx, adminEmail, input), dErrors.CodeTokenAlreadyUsed))
		}
		s.Equal(1, s.record().Attempts)
	})

	s.Run("Given an expired record When verifying Then TokenExpired even with the correct code", func() {
		s.issue()
		s.now = s.now.Add(10*time.Minute + time.Millisecond)
		err := s.service.Verify(s.ctx, adminEmail, "123456")
		s.True(dErrors.HasCode(err, dErrors.CodeTokenExpired))
		s.now = s.now.Add(-(10*time.Minute + time.Millisecond))
	})

	s.Run("Given a wrong code When verifying Then InvalidToken and attempts increment", func() {
		s.issue()
		err := s.service.Verify(s.ctx, adminEmail, "000000")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidToken))
		s.Equal(1, s.record().Attempts)
		s.False(s.record().Used)
	})

	s.Run("Given five failed attempts When verifying the correct code Then lockout marks the record used", func() {
		s.issue()
		for i := 0; i < MaxAttempts; i++ {
			s.True(dErrors.HasCode(s.service.Verify(s.ctx, adminEmail, "000000"), dErrors.CodeInvalidToken))
		}
		err := s.service.Verify(s.ctx, adminEmail, "123456")
		s.True(dErrors.HasCode(err, dErrors.CodeTokenLockout))
		s.True(s.record().Used)

		err = s.service.Verify(s.ctx, adminEmail, "123456")
		s.True(dErrors.HasCode(err, dErrors.CodeTokenAlreadyUsed))
	})

	s.Run("Given three failed attempts When verifying the correct code Then it succeeds on the fourth", func() {
		s.issue()
		for i := 0; i < 3; i++ {
			s.Require().Error(s.service.Verify(s.ctx, adminEmail, "000000"))
		}
		s.Require().NoError(s.service.Verify(s.ctx, adminEmail, " 123456 "))
		s.Equal(4, s.record().Attempts)
	})

	s.Run("Given concurrent wrong codes from several tabs When verifying Then every attempt is counted", func() {
		s.issue()
		var wg sync.WaitGroup
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = s.service.Verify(s.ctx, adminEmail, "000000")
			}()
		}
		wg.Wait()
		s.Equal(4, s.record().Attempts)
	})

	s.Run("Given the correct code from several tabs at once When verifying Then exactly one succeeds", func() {
		s.issue()
		result := testutil.RunConcurrent(5, func(int) error {
			return s.service.Verify(s.ctx, adminEmail, "123456")
		})
		s.EqualValues(1, result.Successes)
		s.EqualValues(4, result.Errors)
		s.True(s.record().Used)
	})
}

func (s *ServiceSuite) TestDegradedStore() {
	s.Run("Given the remote store is unavailable When issuing and verifying Then both work on local fallback", func() {
		s.health.MarkUnavailable()
		s.expectSend()

		res, err := s.service.Issue(s.ctx, adminEmail, "Ada")
		s.Require().NoError(err)
		s.True(res.Sent)
		s.True(res.Degraded)

		_, err = s.remote.Get(s.ctx, models.CollectionTokens, Key(adminEmail))
		s.True(errors.Is(err, sentinel.ErrNotFound), "nothing reached the remote store")

		s.Require().NoError(s.service.Verify(s.ctx, adminEmail, "123456"))
		s.True(s.record().Used)
	})

	s.Run("Given a fallback record When the store recovers Then sync moves the consumed record remote", func() {
		s.health.MarkAvailable()
		_, err := s.adapter.SyncFallback(s.ctx)
		s.Require().NoError(err)

		doc, err := s.remote.Get(s.ctx, models.CollectionTokens, Key(adminEmail))
		s.Require().NoError(err)
		s.Equal(true, doc["used"])
		_, hasMarker := doc["_fallback"]
		s.False(hasMarker)
	})
}

type failingStore struct{ err error }

func (f failingStore) Get(context.Context, string, string) (docstore.Document, resilient.Source, error) {
	return nil, resilient.SourceFallback, f.err
}

func (f failingStore) Set(context.Context, string, string, docstore.Document, bool) (resilient.Source, error) {
	return resilient.SourceFallback, f.err
}

func TestStoreFailuresPropagate(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := mocks.NewMockSender(ctrl)
	storeErr := dErrors.New(dErrors.CodeStoreUnavailable, "remote store unavailable and local fallback failed")
	svc, err := New(failingStore{err: storeErr}, sender, WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)

	_, err = svc.Issue(context.Background(), adminEmail, "Ada")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeStoreUnavailable))

	err = svc.Verify(context.Background(), adminEmail, "123456")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeStoreUnavailable))
}

func TestStaticMode(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := mocks.NewMockSender(ctrl)
	adapter := resilient.New(docstore.NewInMemory(), kv.NewInMemory(), nethealth.New(),
		resilient.WithLogger(slog.New(slog.DiscardHandler)))

	_, err := New(adapter, sender, WithStaticToken(""))
	require.Error(t, err)

	svc, err := New(adapter, sender, WithStaticToken("club-secret"), WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	assert.Equal(t, ModeStatic, svc.Mode())

	var body string
	sender.EXPECT().Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msg email.Message) (*email.SendResult, error) {
			body = msg.Body
			return &email.SendResult{Accepted: true}, nil
		})
	_, err = svc.Issue(context.Background(), adminEmail, "Ada")
	require.NoError(t, err)
	assert.NotContains(t, body, "club-secret", "the shared token never travels by email")

	require.NoError(t, svc.Verify(context.Background(), adminEmail, "club-secret"))
}

func TestBcryptHasher(t *testing.T) {
	h := BcryptHasher{Cost: bcrypt.MinCost}
	hash, err := h.Hash("123456")
	require.NoError(t, err)
	assert.True(t, h.Matches(hash, "123456"))
	assert.False(t, h.Matches(hash, "123457"))
}

func TestNewHasher(t *testing.T) {
	h, err := NewHasher("sha256")
	require.NoError(t, err)
	assert.Equal(t, "sha256", h.Name())

	h, err = NewHasher("bcrypt")
	require.NoError(t, err)
	assert.Equal(t, "bcrypt", h.Name())

	_, err = NewHasher("md5")
	require.Error(t, err)
}

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		require.False(t, strings.HasPrefix(code, "0"))
	}
}
