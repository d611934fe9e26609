package httputil

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dErrors "clubadmin/pkg/domain-errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenRequest struct {
	Token string `json:"token"`
}

func (r *tokenRequest) Normalize() {
	r.Token = strings.TrimSpace(r.Token)
}

func (r *tokenRequest) Validate() error {
	if r.Token == "" {
		return errors.New("token is required")
	}
	return nil
}

type extendRequest struct {
	Minutes int `json:"minutes"`
}

func (r *extendRequest) Validate() error {
	if r.Minutes < 0 {
		return dErrors.New(dErrors.CodeBadRequest, "minutes must not be negative")
	}
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestDecodeJSON(t *testing.T) {
	t.Run("successful decode", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"token":"123456"}`))
		w := httptest.NewRecorder()

		result, ok := DecodeJSON[tokenRequest](w, req, discardLogger(), false)

		require.True(t, ok)
		assert.Equal(t, "123456", result.Token)
	})

	t.Run("invalid JSON returns bad request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{invalid`))
		w := httptest.NewRecorder()

		result, ok := DecodeJSON[tokenRequest](w, req, discardLogger(), false)

		assert.False(t, ok)
		assert.Nil(t, result)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "bad_request", decodeError(t, w).Error)
	})

	t.Run("empty body is rejected unless allowed", func(t *testing.T) {
		w := httptest.NewRecorder()
		_, ok := DecodeJSON[tokenRequest](w, httptest.NewRequest(http.MethodPost, "/", nil), discardLogger(), false)
		assert.False(t, ok)

		w = httptest.NewRecorder()
		result, ok := DecodeJSON[tokenRequest](w, httptest.NewRequest(http.MethodPost, "/", nil), discardLogger(), true)
		require.True(t, ok)
		assert.Empty(t, result.Token)
	})
}

func TestDecodeAndPrepare(t *testing.T) {
	t.Run("normalizes before validating", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"token":"  042042 "}`))
		w := httptest.NewRecorder()

		result, ok := DecodeAndPrepare[tokenRequest](w, req, discardLogger(), false)

		require.True(t, ok)
		assert.Equal(t, "042042", result.Token)
	})

	t.Run("plain validation error maps to validation_failed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"token":"   "}`))
		w := httptest.NewRecorder()

		_, ok := DecodeAndPrepare[tokenRequest](w, req, discardLogger(), false)

		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		resp := decodeError(t, w)
		assert.Equal(t, "validation_failed", resp.Error)
		assert.Contains(t, resp.Description, "token is required")
	})

	t.Run("domain error code is preserved", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"minutes":-1}`))
		w := httptest.NewRecorder()

		_, ok := DecodeAndPrepare[extendRequest](w, req, discardLogger(), false)

		assert.False(t, ok)
		assert.Equal(t, "bad_request", decodeError(t, w).Error)
	})
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		status      int
		code        string
		recoverable bool
	}{
		{"expired token", dErrors.New(dErrors.CodeTokenExpired, "expired"), http.StatusUnauthorized, "token_expired", true},
		{"lockout", dErrors.New(dErrors.CodeTokenLockout, "too many"), http.StatusTooManyRequests, "token_lockout", false},
		{"store down", dErrors.New(dErrors.CodeStoreUnavailable, "down"), http.StatusServiceUnavailable, "store_unavailable", false},
		{"email", dErrors.New(dErrors.CodeEmailDelivery, "smtp"), http.StatusBadGateway, "email_delivery_failed", true},
		{"busy", dErrors.New(dErrors.CodeConflict, "busy"), http.StatusConflict, "conflict", false},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "internal_error", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err)

			assert.Equal(t, tt.status, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, tt.code, resp.Error)
			assert.Equal(t, tt.recoverable, resp.Recoverable)
		})
	}
}
