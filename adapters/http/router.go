package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/xancrypt/xancrypt/adapters/metrics"
	_ "github.com/xancrypt/xancrypt/docs/swagger" // swagger docs
	"github.com/xancrypt/xancrypt/ports"
)

// VersionResponse represents the version endpoint response.
type VersionResponse struct {
	Version string `json:"version" example:"1.0.0"`
	Service string `json:"service" example:"xancrypt"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status string `json:"status" example:"ok"`
	Error  string `json:"error,omitempty"`
}

// HealthChecker reports whether a backing service is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	store HealthChecker
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(store HealthChecker) *HealthHandler {
	return &HealthHandler{store: store}
}

// Liveness returns a simple liveness check.
//
//	@Summary		Liveness check
//	@Description	Returns OK if the service is running
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Router			/health [get]
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Readiness checks that the usage ledger is reachable.
//
//	@Summary		Readiness check
//	@Description	Checks that the usage ledger backend answers
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Failure		503	{object}	HealthResponse
//	@Router			/health/ready [get]
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if h.store != nil {
		if err := h.store.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Error: err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// VersionHandler returns a handler reporting the service version.
//
//	@Summary		Get service version
//	@Tags			System
//	@Produce		json
//	@Success		200	{object}	VersionResponse
//	@Router			/version [get]
func VersionHandler(version string) http.HandlerFunc {
	body, _ := json.Marshal(VersionResponse{Version: version, Service: "xancrypt"})
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}
}

// RouterConfig holds the collaborators of the router.
type RouterConfig struct {
	Handler *Handler
	Health  *HealthHandler
	Admin   *AdminHandler // optional; nil leaves /admin unmounted

	DeviceIDs    ports.IDGenerator
	Tokens       ports.TokenValidator // optional; nil treats every caller as anonymous
	SecureCookie bool

	AdminTokenHash []byte
	Hasher         ports.Hasher

	Metrics       *metrics.Collector // optional
	EnableOpenAPI bool
	Version       string
	Timeout       time.Duration // per-request timeout; 0 selects 60s
}

// NewRouter creates the main HTTP router.
func NewRouter(cfg RouterConfig, logger zerolog.Logger) chi.Router {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(NewLoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Timeout))

	if cfg.Metrics != nil {
		r.Use(NewMetricsMiddleware(cfg.Metrics))
	}

	// Health endpoints (no identity required)
	r.Get("/health", cfg.Health.Liveness)
	r.Get("/health/live", cfg.Health.Liveness)
	r.Get("/health/ready", cfg.Health.Readiness)
	r.Get("/version", VersionHandler(cfg.Version))

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	if cfg.EnableOpenAPI {
		r.Get("/swagger/*", httpSwagger.Handler(
			httpSwagger.URL("/swagger/doc.json"),
		))
	}

	// Public API
	r.Group(func(r chi.Router) {
		r.Use(NewIdentityMiddleware(cfg.DeviceIDs, cfg.Tokens, cfg.SecureCookie, logger))

		r.Post("/api/encrypt", cfg.Handler.Encrypt)
		r.Get("/api/encrypt/remaining", cfg.Handler.Remaining)
		r.Get("/api/encrypt/download/{filename}", cfg.Handler.Download)

		if cfg.Handler.history != nil {
			r.Group(func(r chi.Router) {
				r.Use(RequireUser)
				r.Get("/api/history", cfg.Handler.ListHistory)
				r.Post("/api/history", cfg.Handler.AddHistory)
				r.Delete("/api/history", cfg.Handler.ClearHistory)
			})
		}
	})

	// Admin API
	if cfg.Admin != nil && len(cfg.AdminTokenHash) > 0 && cfg.Hasher != nil {
		r.Route("/admin", func(r chi.Router) {
			r.Use(NewAdminMiddleware(cfg.AdminTokenHash, cfg.Hasher, logger))
			cfg.Admin.Register(r)
		})
	} else if cfg.Admin != nil {
		logger.Info().Msg("admin API disabled (no admin token hash configured)")
	}

	return r
}
