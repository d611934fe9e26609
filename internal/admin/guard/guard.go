// Package guard gates protected admin routes on the session state of the
// calling tab.
package guard

import (
	"context"
	"log/slog"
	"net/http"

	"clubadmin/internal/admin/models"
	"clubadmin/pkg/platform/httputil"
	request "clubadmin/pkg/platform/middleware/request"
)

// Outcome is the gate decision for one snapshot.
type Outcome int

const (
	// Loading means the session is still being resolved; render neither
	// protected content nor a redirect yet.
	Loading Outcome = iota
	Allow
	Deny
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "loading"
	}
}

// SnapshotFunc resolves the session snapshot of the tab issuing r.
type SnapshotFunc func(r *http.Request) (models.Snapshot, error)

type contextKeyAdmin struct{}

// Admin returns the profile of the admin admitted by the gate, or nil.
// In dev bypass mode it may be nil even though the request was allowed.
func Admin(ctx context.Context) *models.AdminProfileRecord {
	if admin, ok := ctx.Value(contextKeyAdmin{}).(*models.AdminProfileRecord); ok {
		return admin
	}
	return nil
}

type Gate struct {
	devMode  bool
	loginURL string
	logger   *slog.Logger
}

type Option func(*Gate)

// WithDevBypass admits every request regardless of session state.
func WithDevBypass(enabled bool) Option {
	return func(g *Gate) { g.devMode = enabled }
}

// WithLoginURL sets the hint returned to denied clients.
func WithLoginURL(url string) Option {
	return func(g *Gate) { g.loginURL = url }
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func New(opts ...Option) *Gate {
	g := &Gate{logger: slog.Default(), loginURL: "/admin/login"}
	for _, opt := range opts {
		opt(g)
	}
	if g.devMode {
		g.logger.Warn("admin guard dev bypass enabled; protected routes are open")
	}
	return g
}

// Decide maps a snapshot to an outcome. Only Authenticated is allowed.
func (g *Gate) Decide(snap models.Snapshot) Outcome {
	if g.devMode {
		return Allow
	}
	if snap.Resolving || snap.State == models.StateLoading {
		return Loading
	}
	if snap.State == models.StateAuthenticated {
		return Allow
	}
	return Deny
}

// CanEnter reports whether the snapshot admits entry. A loading snapshot does not.
func (g *Gate) CanEnter(snap models.Snapshot) bool {
	return g.Decide(snap) == Allow
}

type loginHint struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
	LoginURL    string `json:"login_url"`
}

// Require wraps protected handlers. Loading answers 202 with Retry-After so the
// client polls instead of redirecting; Deny answers 401 with a login hint.
func (g *Gate) Require(snapshot SnapshotFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			snap, err := snapshot(r)
			if err != nil {
				g.logger.WarnContext(ctx, "could not resolve admin session",
					"error", err,
					"request_id", request.GetRequestID(ctx),
				)
				httputil.WriteError(w, err)
				return
			}

			switch g.Decide(snap) {
			case Allow:
				if snap.Admin != nil {
					ctx = context.WithValue(ctx, contextKeyAdmin{}, snap.Admin)
				}
				next.ServeHTTP(w, r.WithContext(ctx))
			case Loading:
				w.Header().Set("Retry-After", "1")
				httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "loading"})
			default:
				g.logger.InfoContext(ctx, "admin route denied",
					"state", snap.State,
					"path", r.URL.Path,
					"request_id", request.GetRequestID(ctx),
				)
				httputil.WriteJSON(w, http.StatusUnauthorized, loginHint{
					Error:       "unauthorized",
					Description: "admin sign-in required",
					LoginURL:    g.loginURL,
				})
			}
		})
	}
}
