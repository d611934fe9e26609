package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// InMemoryStore keeps documents as encoded JSON so callers never share maps
// with the store and values round-trip exactly as they would remotely.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]map[string][]byte)}
}

func (s *InMemoryStore) Get(_ context.Context, collection, id string) (Document, error) {
	s.mu.RLock()
	raw, ok := s.data[collection][id]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound("get", collection, id)
	}
	return decodeRaw("get", raw)
}

func (s *InMemoryStore) Set(_ context.Context, collection, id string, doc Document, merge bool) error {
	if err := Validate(doc); err != nil {
		return &Error{Code: CodeInvalidArgument, Op: "set", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if merge {
		if raw, ok := s.data[collection][id]; ok {
			existing, err := decodeRaw("set", raw)
			if err != nil {
				return err
			}
			doc = Merge(existing, doc)
		}
	}
	return s.put("set", collection, id, doc)
}

func (s *InMemoryStore) Update(_ context.Context, collection, id string, fields Document) error {
	if err := Validate(fields); err != nil {
		return &Error{Code: CodeInvalidArgument, Op: "update", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.data[collection][id]
	if !ok {
		return notFound("update", collection, id)
	}
	existing, err := decodeRaw("update", raw)
	if err != nil {
		return err
	}
	return s.put("update", collection, id, Merge(existing, fields))
}

func (s *InMemoryStore) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[collection], id)
	return nil
}

func (s *InMemoryStore) List(_ context.Context, collection string) (map[string]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Document, len(s.data[collection]))
	for id, raw := range s.data[collection] {
		doc, err := decodeRaw("list", raw)
		if err != nil {
			return nil, err
		}
		out[id] = doc
	}
	return out, nil
}

func (s *InMemoryStore) Health(context.Context) error { return nil }

// put must be called with the write lock held.
func (s *InMemoryStore) put(op, collection, id string, doc Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return &Error{Code: CodeInvalidArgument, Op: op, Err: err}
	}
	if s.data[collection] == nil {
		s.data[collection] = make(map[string][]byte)
	}
	s.data[collection][id] = raw
	return nil
}

func decodeRaw(op string, raw []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &Error{Code: CodeInternal, Op: op, Err: fmt.Errorf("corrupt document: %w", err)}
	}
	return doc, nil
}

var _ Store = (*InMemoryStore)(nil)
