// Package jwttoken signs the opaque client identifiers that bind a browser and
// a tab to their admin session machine.
package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "clubadmin/pkg/domain-errors"
)

// Client identifier kinds.
const (
	KindBrowser = "browser"
	KindTab     = "tab"
)

// ClientClaims carries one client identifier in the subject.
type ClientClaims struct {
	Kind string `json:"kind"`
	jwt.RegisteredClaims
}

// ClientTokenService handles client identifier creation and validation.
type ClientTokenService struct {
	signingKey []byte
	issuer     string
	now        func() time.Time
}

func NewClientTokenService(signingKey string, issuer string) *ClientTokenService {
	return &ClientTokenService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		now:        time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *ClientTokenService) WithClock(now func() time.Time) *ClientTokenService {
	s.now = now
	return s
}

// NewID returns a fresh identifier and its signed token. A zero ttl issues a
// token without expiry.
func (s *ClientTokenService) NewID(kind string, ttl time.Duration) (string, string, error) {
	id := uuid.NewString()
	token, err := s.Sign(kind, id, ttl)
	if err != nil {
		return "", "", err
	}
	return id, token, nil
}

func (s *ClientTokenService) Sign(kind, id string, ttl time.Duration) (string, error) {
	if kind == "" || id == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "kind and id are required")
	}
	now := s.now()
	claims := ClientClaims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  id,
			Issuer:   s.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign client id")
	}
	return signed, nil
}

// Parse validates a token of the given kind and returns its identifier.
func (s *ClientTokenService) Parse(kind, token string) (string, error) {
	claims := &ClientClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.signingKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", dErrors.Wrap(err, dErrors.CodeUnauthorized, "client id expired")
		}
		return "", dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid client id")
	}
	if !parsed.Valid || claims.Kind != kind || claims.Subject == "" {
		return "", dErrors.New(dErrors.CodeUnauthorized, "invalid client id")
	}
	return claims.Subject, nil
}
