package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	Messages  *MessageHandler
	JWTSecret []byte
	Checks    map[string]HealthCheck
	Logger    *slog.Logger
}

// NewRouter builds the service router: unauthenticated health and metrics
// endpoints plus the authenticated /v1 API.
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(NewMetricsMiddleware(Endpoints))

	r.Get("/healthz", healthHandler(cfg.Checks, cfg.Logger))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret, cfg.Logger))
		r.Use(RequireScope(ScopeSend, cfg.Logger))
		cfg.Messages.RegisterRoutes(r)
	})
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		status := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.WarnContext(ctx, "Health check failed", "check", name, "error", err)
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
