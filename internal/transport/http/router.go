// Package httptransport assembles the HTTP surface: middleware stack, CORS
// and the route groups registered by each component.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"clubadmin/internal/admin/device"
	request "clubadmin/pkg/platform/middleware/request"
)

// Registrar adds routes to the router.
type Registrar interface {
	Register(r chi.Router)
}

type RouterConfig struct {
	AllowedOrigins []string
	Timeout        time.Duration
	Latency        request.LatencyObserver
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// NewRouter wires every registrar behind the shared middleware stack.
func NewRouter(cfg RouterConfig, logger *slog.Logger, registrars ...Registrar) http.Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	r := chi.NewRouter()

	r.Use(request.Recovery(logger))
	r.Use(request.RequestID)
	r.Use(request.Logger(logger, cfg.Latency))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "X-Request-ID", "X-Admin-Tab"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Admin-Tab", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Timeout(cfg.Timeout))
	r.Use(request.ContentTypeJSON)
	r.Use(device.Middleware)

	for _, reg := range registrars {
		reg.Register(r)
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	return r
}
