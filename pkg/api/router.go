package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/dittocache/internal/logger"
	"github.com/marmos91/dittocache/pkg/api/handlers"
	"github.com/marmos91/dittocache/pkg/manager"
	"github.com/marmos91/dittocache/pkg/metrics"
)

// NewRouter creates the chi router with all middleware and routes.
//
// Routes:
//   - GET    /health, /health/ready, /health/regions
//   - GET    /metrics (when the metrics registry is initialized)
//   - GET    /regions
//   - DELETE /regions/{name}
//   - GET    /regions/{name}/stats
//   - POST   /regions/{name}/verify
//   - GET    /regions/{name}/keys, DELETE purges the region
//   - GET    /regions/{name}/match?pattern=
//   - GET, PUT, DELETE /regions/{name}/keys/{key}
func NewRouter(m *manager.Manager) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	healthHandler := handlers.NewHealthHandler(m)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
		r.Get("/regions", healthHandler.Regions)
	})

	if metrics.IsEnabled() {
		r.Handle("/metrics", metrics.Handler())
	}

	if m != nil {
		regionHandler := handlers.NewRegionHandler(m)
		r.Route("/regions", func(r chi.Router) {
			r.Get("/", regionHandler.List)
			r.Route("/{name}", func(r chi.Router) {
				r.Delete("/", regionHandler.Free)
				r.Get("/stats", regionHandler.Stats)
				r.Post("/verify", regionHandler.Verify)
				r.Get("/match", regionHandler.Match)
				r.Get("/keys", regionHandler.Keys)
				r.Delete("/keys", regionHandler.Purge)
				r.Get("/keys/{key}", regionHandler.Get)
				r.Put("/keys/{key}", regionHandler.Put)
				r.Delete("/keys/{key}", regionHandler.Remove)
			})
		})
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusNotFound, ErrorResponse("route not found"))
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// requestLogger logs requests using the internal logger: the start at DEBUG
// and the completion at INFO.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			logger.DurationMs(start),
		)
	})
}
