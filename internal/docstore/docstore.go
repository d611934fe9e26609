// Package docstore is the remote document store: collections of JSON
// documents addressed by (collection, id).
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"clubadmin/pkg/platform/sentinel"
)

// Document is a JSON object. Values decoded from a store follow encoding/json
// conventions (numbers are float64).
type Document map[string]any

// missing marks a field whose value was never set.
type missing struct{}

// Missing is the "unset" field value. Stores reject documents that contain it
// anywhere, including nested maps and slices.
var Missing any = missing{}

//go:generate mockgen -source=docstore.go -destination=mocks/mocks.go -package=mocks Store

// Store is the remote document store contract.
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	// Set writes doc. With merge, top-level fields are merged into any existing document.
	Set(ctx context.Context, collection, id string, doc Document, merge bool) error
	// Update merges fields into an existing document and fails with CodeNotFound otherwise.
	Update(ctx context.Context, collection, id string, fields Document) error
	Delete(ctx context.Context, collection, id string) error
	List(ctx context.Context, collection string) (map[string]Document, error)
	Health(ctx context.Context) error
}

// Code classifies store failures the way hosted document stores report them.
type Code string

const (
	CodeUnavailable      Code = "unavailable"
	CodePermissionDenied Code = "permission-denied"
	CodeNotFound         Code = "not-found"
	CodeInvalidArgument  Code = "invalid-argument"
	CodeInternal         Code = "internal"
)

// Error is a classified store failure.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("docstore %s: code %s", e.Op, e.Code)
	}
	return fmt.Sprintf("docstore %s: code %s: %v", e.Op, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is maps codes onto the shared sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case sentinel.ErrNotFound:
		return e.Code == CodeNotFound
	case sentinel.ErrInvalidInput:
		return e.Code == CodeInvalidArgument
	case sentinel.ErrUnavailable:
		return e.Code == CodeUnavailable
	case sentinel.ErrPermission:
		return e.Code == CodePermissionDenied
	}
	return false
}

// CodeOf returns the store code carried by err, or "" when err is not a store error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func notFound(op, collection, id string) error {
	return &Error{Code: CodeNotFound, Op: op, Err: fmt.Errorf("%s/%s", collection, id)}
}

// Validate fails with sentinel.ErrMissingValue if doc holds Missing at any depth.
func Validate(doc Document) error {
	return validateValue("", map[string]any(doc))
}

func validateValue(path string, v any) error {
	switch val := v.(type) {
	case missing:
		if path == "" {
			return sentinel.ErrMissingValue
		}
		return fmt.Errorf("field %q: %w", path, sentinel.ErrMissingValue)
	case map[string]any:
		for k, inner := range val {
			if err := validateValue(join(path, k), inner); err != nil {
				return err
			}
		}
	case Document:
		return validateValue(path, map[string]any(val))
	case []any:
		for i, inner := range val {
			if err := validateValue(fmt.Sprintf("%s[%d]", path, i), inner); err != nil {
				return err
			}
		}
	}
	return nil
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// Encode converts a JSON-tagged struct into a Document.
func Encode(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return doc, nil
}

// Decode fills the JSON-tagged struct dst from doc. Unknown fields are ignored.
func Decode(doc Document, dst any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// Merge returns a copy of base with the top-level fields of patch applied.
func Merge(base, patch Document) Document {
	out := make(Document, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}
