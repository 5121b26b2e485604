package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/playforge/arcadia/internal/logger"
	"github.com/playforge/arcadia/pkg/api/handlers"
	"github.com/playforge/arcadia/pkg/api/middleware"
	"github.com/playforge/arcadia/pkg/hub"
)

// NewRouter creates the chi router with the middleware stack and routes.
//
// Routes:
//   - GET /v1/healthz - liveness probe, unauthenticated
//   - GET /v1/healthz/ready - readiness probe, unauthenticated
//   - GET /v1/stats/{cache,lock,sync,txn,sessions,router} - stat snapshots,
//     bearer-guarded when an auth secret is configured
func NewRouter(cfg Config, health *handlers.HealthHandler, stats *handlers.StatsHandler) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/healthz", func(r chi.Router) {
			r.Get("/", health.Liveness)
			r.Get("/ready", health.Readiness)
		})

		r.Route("/stats", func(r chi.Router) {
			if cfg.AuthSecret != "" {
				r.Use(middleware.Bearer(hub.NewJWTVerifier(cfg.AuthSecret)))
			}
			r.Get("/cache", stats.Cache)
			r.Get("/lock", stats.Lock)
			r.Get("/sync", stats.Sync)
			r.Get("/txn", stats.Txn)
			r.Get("/sessions", stats.Sessions)
			r.Get("/router", stats.Router)
		})
	})

	// Root redirect to the liveness probe for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/v1/healthz", http.StatusTemporaryRedirect)
	})

	return r
}

// requestLogger logs requests using the internal logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := chimw.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
