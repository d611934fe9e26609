package resilient

import (
	"context"
	"errors"
	"fmt"

	"clubadmin/internal/platform/tracer"
)

// SyncResult summarizes a SyncFallback run.
type SyncResult struct {
	Skipped bool
	Synced  int
	Failed  int
}

// SyncFallback reconciles every pending fallback record into the remote store
// and removes the local copy. It is skipped while the store is degraded.
// Records that fail stay in place for the next run.
func (a *Adapter) SyncFallback(ctx context.Context) (SyncResult, error) {
	if a.health.Degraded() {
		a.logger.InfoContext(ctx, "fallback sync skipped: remote store degraded")
		return SyncResult{Skipped: true}, nil
	}
	ctx, span := a.tracer.Start(ctx, tracer.SpanStoreSync)

	keys, err := a.local.Keys(ctx, FallbackPrefix)
	if err != nil {
		err = fallbackErr("list", err)
		span.End(err)
		return SyncResult{}, err
	}

	var (
		result SyncResult
		errs   []error
	)
	for _, key := range keys {
		collection, id, ok := ParseFallbackKey(key)
		if !ok {
			a.logger.WarnContext(ctx, "skipping malformed fallback key", "key", key)
			continue
		}
		if err := a.syncOne(ctx, collection, id); err != nil {
			result.Failed++
			a.metrics.IncFallbackSynced("error")
			a.logger.ErrorContext(ctx, "failed to sync fallback record",
				"collection", collection,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("sync %s: %w", key, err))
			if IsBlockingError(err) && a.health.MarkUnavailable() {
				a.metrics.IncBlockingDetected()
				break
			}
			continue
		}
		result.Synced++
	}

	if result.Synced > 0 || result.Failed > 0 {
		a.logger.InfoContext(ctx, "fallback sync finished",
			"synced", result.Synced,
			"failed", result.Failed,
		)
	}
	err = errors.Join(errs...)
	span.End(err)
	return result, err
}

func (a *Adapter) syncOne(ctx context.Context, collection, id string) error {
	doc, ok, err := a.readFallback(ctx, collection, id)
	if err != nil || !ok {
		return err
	}
	if err := a.remote.Set(ctx, collection, id, stripMarkers(doc), true); err != nil {
		return err
	}
	a.metrics.IncFallbackSynced("ok")
	return a.removeFallback(ctx, collection, id)
}
