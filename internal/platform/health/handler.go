// Package health provides HTTP health check endpoints for liveness, readiness, and status checks.
package health

import (
	"context"
	"maps"
	"net/http"
	"sync"
	"time"

	"clubadmin/pkg/platform/httputil"

	"github.com/go-chi/chi/v5"
)

// Version is set at build time via ldflags.
var Version = "dev"

// CheckFunc checks one dependency. It returns nil if healthy.
type CheckFunc func(ctx context.Context) error

// ModeFunc reports the current store mode ("remote" or "fallback").
type ModeFunc func() string

// Handler provides health check endpoints.
type Handler struct {
	startTime   time.Time
	environment string
	timeout     time.Duration
	storeMode   ModeFunc

	mu       sync.RWMutex
	critical map[string]CheckFunc
	optional map[string]CheckFunc
}

// New creates a new health handler.
func New(environment string, storeMode ModeFunc) *Handler {
	return &Handler{
		startTime:   time.Now(),
		environment: environment,
		timeout:     2 * time.Second,
		storeMode:   storeMode,
		critical:    make(map[string]CheckFunc),
		optional:    make(map[string]CheckFunc),
	}
}

// RegisterCheck adds a named check that fails readiness when it fails.
func (h *Handler) RegisterCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.critical[name] = check
}

// RegisterOptionalCheck adds a named check that is reported but never fails
// readiness. The remote store is optional: the service keeps serving from the
// local fallback while it is down.
func (h *Handler) RegisterOptionalCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.optional[name] = check
}

// Register mounts health check routes on the given router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.HandleStatus)
	r.Get("/health/live", h.HandleLiveness)
	r.Get("/health/ready", h.HandleReadiness)
}

type LivenessResponse struct {
	Status string `json:"status"`
}

func (h *Handler) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, LivenessResponse{Status: "alive"})
}

type ReadinessResponse struct {
	Status    string            `json:"status"`
	StoreMode string            `json:"store_mode,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HandleReadiness returns 503 if any critical check fails.
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	critical := maps.Clone(h.critical)
	optional := maps.Clone(h.optional)
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	response := ReadinessResponse{
		Status: "ready",
		Checks: make(map[string]string, len(critical)+len(optional)),
	}
	if h.storeMode != nil {
		response.StoreMode = h.storeMode()
	}

	allHealthy := true
	for name, check := range critical {
		if err := check(ctx); err != nil {
			response.Checks[name] = "down: " + err.Error()
			allHealthy = false
		} else {
			response.Checks[name] = "up"
		}
	}
	for name, check := range optional {
		if err := check(ctx); err != nil {
			response.Checks[name] = "degraded: " + err.Error()
		} else {
			response.Checks[name] = "up"
		}
	}

	if !allHealthy {
		response.Status = "not_ready"
		httputil.WriteJSON(w, http.StatusServiceUnavailable, response)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, response)
}

type StatusResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Environment   string `json:"environment"`
	StoreMode     string `json:"store_mode,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Timestamp     string `json:"timestamp"`
}

// HandleStatus returns general health status with version and uptime information.
func (h *Handler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Status:        "healthy",
		Version:       Version,
		Environment:   h.environment,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	if h.storeMode != nil {
		resp.StoreMode = h.storeMode()
		if resp.StoreMode != "remote" {
			resp.Status = "degraded"
		}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
