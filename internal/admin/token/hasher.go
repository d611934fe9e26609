package token

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Hasher is the one-way function applied to tokens before they are stored.
type Hasher interface {
	Name() string
	Hash(token string) (string, error)
	// Matches compares without branching on the position of the first mismatch.
	Matches(hash, token string) bool
}

// SHA256Hasher stores the hex SHA-256 digest of the token.
type SHA256Hasher struct{}

func (SHA256Hasher) Name() string { return "sha256" }

func (SHA256Hasher) Hash(token string) (string, error) {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:]), nil
}

func (h SHA256Hasher) Matches(hash, token string) bool {
	candidate, _ := h.Hash(token)
	return subtle.ConstantTimeCompare([]byte(hash), []byte(candidate)) == 1
}

// BcryptHasher stores a salted bcrypt hash.
type BcryptHasher struct {
	Cost int
}

func (BcryptHasher) Name() string { return "bcrypt" }

func (h BcryptHasher) Hash(token string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	out, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(out), nil
}

func (BcryptHasher) Matches(hash, token string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}

// NewHasher returns the hasher configured by name.
func NewHasher(name string) (Hasher, error) {
	switch name {
	case "", "sha256":
		return SHA256Hasher{}, nil
	case "bcrypt":
		return BcryptHasher{}, nil
	default:
		return nil, errors.New("unknown token hasher: " + name)
	}
}
