package resilient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"clubadmin/internal/docstore"
	"clubadmin/internal/platform/tracer"
	dErrors "clubadmin/pkg/domain-errors"
	"clubadmin/pkg/platform/sentinel"
)

// FallbackPrefix namespaces fallback records in the local store.
const FallbackPrefix = "csi_fallback_"

// Markers added to fallback records.
const (
	markerFallback    = "_fallback"
	markerTimestamp   = "_timestamp"
	markerLastUpdated = "_lastUpdated"
)

// FallbackKey returns the local key for (collection, id).
func FallbackKey(collection, id string) string {
	return FallbackPrefix + collection + "_" + id
}

// ParseFallbackKey splits a key written by FallbackKey. Collections never
// contain "_", so the first separator ends the collection.
func ParseFallbackKey(key string) (collection, id string, ok bool) {
	rest, found := strings.CutPrefix(key, FallbackPrefix)
	if !found {
		return "", "", false
	}
	collection, id, ok = strings.Cut(rest, "_")
	if !ok || collection == "" || id == "" {
		return "", "", false
	}
	return collection, id, true
}

// Get reads a document. A remote not-found consults a pending fallback
// record before reporting CodeNotFound.
func (a *Adapter) Get(ctx context.Context, collection, id string) (docstore.Document, Source, error) {
	if err := validateCollection(collection); err != nil {
		return nil, SourceRemote, err
	}
	ctx, span := a.tracer.Start(ctx, tracer.SpanStoreGet, tracer.String(tracer.AttrCollection, collection))

	doc, src, err := PerformWithFallback(ctx, a, "get",
		func(ctx context.Context) (docstore.Document, error) {
			if err := a.reconcileKey(ctx, collection, id); err != nil {
				return nil, err
			}
			return a.remote.Get(ctx, collection, id)
		},
		func(ctx context.Context) (docstore.Document, error) {
			return a.getFallback(ctx, collection, id)
		},
	)
	span.SetAttributes(tracer.Bool(tracer.AttrFallback, src == SourceFallback))
	span.End(err)
	return doc, src, err
}

// Set writes a document, merging top-level fields when merge is true.
// Documents holding docstore.Missing are rejected before any attempt.
func (a *Adapter) Set(ctx context.Context, collection, id string, doc docstore.Document, merge bool) (Source, error) {
	if err := a.validateWrite(collection, doc); err != nil {
		return SourceRemote, err
	}
	ctx, span := a.tracer.Start(ctx, tracer.SpanStoreSet, tracer.String(tracer.AttrCollection, collection))

	_, src, err := PerformWithFallback(ctx, a, "set",
		func(ctx context.Context) (struct{}, error) {
			if err := a.reconcileKey(ctx, collection, id); err != nil {
				return struct{}{}, err
			}
			return struct{}{}, a.remote.Set(ctx, collection, id, doc, merge)
		},
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, a.setFallback(ctx, collection, id, doc, merge)
		},
	)
	span.SetAttributes(tracer.Bool(tracer.AttrFallback, src == SourceFallback))
	span.End(err)
	return src, err
}

// Update merges fields into an existing document. A missing document fails
// with CodeNotFound on both paths.
func (a *Adapter) Update(ctx context.Context, collection, id string, fields docstore.Document) (Source, error) {
	if err := a.validateWrite(collection, fields); err != nil {
		return SourceRemote, err
	}
	ctx, span := a.tracer.Start(ctx, tracer.SpanStoreUpdate, tracer.String(tracer.AttrCollection, collection))

	_, src, err := PerformWithFallback(ctx, a, "update",
		func(ctx context.Context) (struct{}, error) {
			if err := a.reconcileKey(ctx, collection, id); err != nil {
				return struct{}{}, err
			}
			return struct{}{}, a.remote.Update(ctx, collection, id, fields)
		},
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, a.updateFallback(ctx, collection, id, fields)
		},
	)
	span.SetAttributes(tracer.Bool(tracer.AttrFallback, src == SourceFallback))
	span.End(err)
	return src, err
}

// Delete removes a document and any fallback record for it.
func (a *Adapter) Delete(ctx context.Context, collection, id string) (Source, error) {
	if err := validateCollection(collection); err != nil {
		return SourceRemote, err
	}
	ctx, span := a.tracer.Start(ctx, tracer.SpanStoreDelete, tracer.String(tracer.AttrCollection, collection))

	_, src, err := PerformWithFallback(ctx, a, "delete",
		func(ctx context.Context) (struct{}, error) {
			if err := a.remote.Delete(ctx, collection, id); err != nil {
				return struct{}{}, err
			}
			return struct{}{}, a.removeFallback(ctx, collection, id)
		},
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, a.removeFallback(ctx, collection, id)
		},
	)
	span.End(err)
	return src, err
}

func (a *Adapter) validateWrite(collection string, doc docstore.Document) error {
	if err := validateCollection(collection); err != nil {
		return err
	}
	if err := docstore.Validate(doc); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, err.Error())
	}
	return nil
}

// reconcileKey pushes a pending fallback record for the key before the remote
// store is used, so remote reads and writes never race a stale local copy.
func (a *Adapter) reconcileKey(ctx context.Context, collection, id string) error {
	doc, ok, err := a.readFallback(ctx, collection, id)
	if err != nil || !ok {
		// An unreadable local copy must not block the remote path.
		return nil
	}
	if err := a.remote.Set(ctx, collection, id, stripMarkers(doc), true); err != nil {
		return err
	}
	if err := a.local.Remove(ctx, FallbackKey(collection, id)); err != nil {
		a.logger.WarnContext(ctx, "failed to remove reconciled fallback record",
			"collection", collection, "error", err)
	}
	a.metrics.IncFallbackSynced("ok")
	return nil
}

func (a *Adapter) readFallback(ctx context.Context, collection, id string) (docstore.Document, bool, error) {
	raw, ok, err := a.local.Get(ctx, FallbackKey(collection, id))
	if err != nil {
		return nil, false, fallbackErr("read", err)
	}
	if !ok {
		return nil, false, nil
	}
	var doc docstore.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, false, fallbackErr("decode", err)
	}
	return doc, true, nil
}

func (a *Adapter) writeFallback(ctx context.Context, collection, id string, doc docstore.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fallbackErr("encode", err)
	}
	if err := a.local.Set(ctx, FallbackKey(collection, id), string(raw)); err != nil {
		return fallbackErr("write", err)
	}
	return nil
}

func (a *Adapter) getFallback(ctx context.Context, collection, id string) (docstore.Document, error) {
	doc, ok, err := a.readFallback(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "document not found in local fallback")
	}
	return stripMarkers(doc), nil
}

func (a *Adapter) setFallback(ctx context.Context, collection, id string, doc docstore.Document, merge bool) error {
	record := docstore.Document{}
	if merge {
		existing, ok, err := a.readFallback(ctx, collection, id)
		if err != nil {
			return err
		}
		if ok {
			record = existing
		}
	}
	record = docstore.Merge(record, doc)
	record[markerFallback] = true
	record[markerTimestamp] = a.now().UnixMilli()
	return a.writeFallback(ctx, collection, id, record)
}

func (a *Adapter) updateFallback(ctx context.Context, collection, id string, fields docstore.Document) error {
	existing, ok, err := a.readFallback(ctx, collection, id)
	if err != nil {
		return err
	}
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "document not found in local fallback")
	}
	record := docstore.Merge(existing, fields)
	record[markerFallback] = true
	record[markerLastUpdated] = a.now().UnixMilli()
	return a.writeFallback(ctx, collection, id, record)
}

func (a *Adapter) removeFallback(ctx context.Context, collection, id string) error {
	if err := a.local.Remove(ctx, FallbackKey(collection, id)); err != nil {
		return fallbackErr("remove", err)
	}
	return nil
}

func stripMarkers(doc docstore.Document) docstore.Document {
	out := make(docstore.Document, len(doc))
	for k, v := range doc {
		switch k {
		case markerFallback, markerTimestamp, markerLastUpdated:
			continue
		}
		out[k] = v
	}
	return out
}

func fallbackErr(action string, err error) error {
	return dErrors.Wrap(fmt.Errorf("%w: %s: %w", sentinel.ErrFallbackStorage, action, err),
		dErrors.CodeStoreUnavailable, "remote store unavailable and local fallback failed")
}
