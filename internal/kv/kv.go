// Package kv is string key/value persistence used for per-browser durable
// state, per-tab volatile state and the store fallback records.
package kv

import (
	"context"
	"strings"
)

// Store is a flat string key/value store.
type Store interface {
	// Get reports ok=false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	// Remove is idempotent.
	Remove(ctx context.Context, key string) error
	// Keys lists keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Scoped confines a Store to keys under "<scope>:".
type Scoped struct {
	inner  Store
	prefix string
}

// Scope returns a view of inner in which every key is namespaced by scope.
func Scope(inner Store, scope string) *Scoped {
	return &Scoped{inner: inner, prefix: scope + ":"}
}

func (s *Scoped) Get(ctx context.Context, key string) (string, bool, error) {
	return s.inner.Get(ctx, s.prefix+key)
}

func (s *Scoped) Set(ctx context.Context, key, value string) error {
	return s.inner.Set(ctx, s.prefix+key, value)
}

func (s *Scoped) Remove(ctx context.Context, key string) error {
	return s.inner.Remove(ctx, s.prefix+key)
}

func (s *Scoped) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.inner.Keys(ctx, s.prefix+prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, s.prefix))
	}
	return out, nil
}

// Clear removes every key in the scope.
func (s *Scoped) Clear(ctx context.Context) error {
	keys, err := s.inner.Keys(ctx, s.prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.inner.Remove(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

var _ Store = (*Scoped)(nil)
