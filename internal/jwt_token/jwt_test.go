package jwttoken

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "clubadmin/pkg/domain-errors"
)

func TestClientTokenRoundTrip(t *testing.T) {
	svc := NewClientTokenService("test-signing-key", "clubadmin")

	id, token, err := svc.NewID(KindBrowser, time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	got, err := svc.Parse(KindBrowser, token)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestParseRejects(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewClientTokenService("test-signing-key", "clubadmin").WithClock(func() time.Time { return now })

	tab, err := svc.Sign(KindTab, "tab-1", 0)
	require.NoError(t, err)
	short, err := svc.Sign(KindBrowser, "browser-1", time.Minute)
	require.NoError(t, err)
	foreign, err := NewClientTokenService("other-key", "clubadmin").Sign(KindBrowser, "browser-1", 0)
	require.NoError(t, err)
	otherIssuer, err := NewClientTokenService("test-signing-key", "elsewhere").Sign(KindBrowser, "browser-1", 0)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, ClientClaims{Kind: KindBrowser}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		kind  string
		token string
	}{
		{"wrong kind", KindBrowser, tab},
		{"wrong key", KindBrowser, foreign},
		{"wrong issuer", KindBrowser, otherIssuer},
		{"unsigned", KindBrowser, none},
		{"garbage", KindBrowser, "not-a-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Parse(tt.kind, tt.token)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
		})
	}

	t.Run("expired", func(t *testing.T) {
		now = now.Add(2 * time.Minute)
		_, err := svc.Parse(KindBrowser, short)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expired")
	})

	t.Run("tab tokens without expiry stay valid", func(t *testing.T) {
		id, err := svc.Parse(KindTab, tab)
		require.NoError(t, err)
		assert.Equal(t, "tab-1", id)
	})
}

func TestSignRequiresKindAndID(t *testing.T) {
	_, err := NewClientTokenService("k", "i").Sign("", "x", 0)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}
