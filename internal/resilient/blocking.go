package resilient

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/sync/errgroup"

	"clubadmin/internal/docstore"
	"clubadmin/internal/platform/tracer"
)

var blockingPatterns = []string{
	"blocked",
	"failed to fetch",
	"network",
	"err_blocked_by_client",
}

// IsBlockingError reports whether err looks like the remote store being
// blocked or unreachable from this host, as opposed to a transient failure.
func IsBlockingError(err error) bool {
	if err == nil {
		return false
	}
	switch docstore.CodeOf(err) {
	case docstore.CodeUnavailable, docstore.CodePermissionDenied:
		return true
	}

	var netErr net.Error
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range blockingPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Remediation hints returned when an endpoint looks blocked.
var Suggestions = []string{
	"Disable ad blockers for this site",
	"Add this site to your ad blocker's whitelist",
	"Check browser extensions that might block network requests",
	"Try using a different browser or incognito mode",
	"Check firewall or antivirus settings",
}

// BlockingResult is the outcome of DetectBlockingExtensions.
type BlockingResult struct {
	HasBlocker       bool     `json:"hasBlocker"`
	BlockedEndpoints []string `json:"blockedEndpoints"`
	Suggestions      []string `json:"suggestions"`
}

// DetectBlockingExtensions sends HEAD requests to the configured endpoints in
// parallel. Any HTTP response counts as reachable. A timeout or a
// blocking-like failure marks the endpoint blocked and the store unavailable.
func (a *Adapter) DetectBlockingExtensions(ctx context.Context) (*BlockingResult, error) {
	ctx, span := a.tracer.Start(ctx, tracer.SpanDetectBlocking, tracer.Int("endpoints", len(a.checkEndpoints)))

	blocked := make([]bool, len(a.checkEndpoints))
	g, gctx := errgroup.WithContext(ctx)
	for i, endpoint := range a.checkEndpoints {
		g.Go(func() error {
			blocked[i] = a.checkEndpoint(gctx, endpoint)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.End(err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		span.End(err)
		return nil, err
	}

	result := &BlockingResult{BlockedEndpoints: []string{}, Suggestions: []string{}}
	for i, b := range blocked {
		if b {
			result.BlockedEndpoints = append(result.BlockedEndpoints, a.checkEndpoints[i])
		}
	}
	if len(result.BlockedEndpoints) > 0 {
		result.HasBlocker = true
		result.Suggestions = append(result.Suggestions, Suggestions...)
		if a.health.MarkUnavailable() {
			a.metrics.IncBlockingDetected()
		}
		a.logger.WarnContext(ctx, "remote store endpoints look blocked",
			"blocked_endpoints", result.BlockedEndpoints,
		)
	}
	span.SetAttributes(tracer.Bool(tracer.AttrBlocking, result.HasBlocker))
	span.End(nil)
	return result, nil
}

func (a *Adapter) checkEndpoint(ctx context.Context, endpoint string) bool {
	ctx, cancel := context.WithTimeout(ctx, a.checkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint, nil)
	if err != nil {
		a.logger.WarnContext(ctx, "invalid reachability endpoint", "endpoint", endpoint, "error", err)
		return false
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return errors.Is(err, context.DeadlineExceeded) || IsBlockingError(err)
	}
	_ = resp.Body.Close()
	return false
}
