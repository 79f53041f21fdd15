package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/upb/command-bridge/app"
	"github.com/upb/command-bridge/handlers"
	"github.com/upb/command-bridge/internal/observability"
	bridgemw "github.com/upb/command-bridge/middleware"
	"github.com/upb/command-bridge/utils"
	"go.uber.org/zap"
)

// SetupRoutes configures all application routes and middleware.
// Backend sockets and MCP streams are long-lived, so there is no global
// request timeout; commands carry their own deadline.
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	if deps.Config.Observability.MetricsEnabled {
		r.Use(observability.MetricsMiddleware)
	}

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.Config.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type",
			bridgemw.APIKeyHeader, bridgemw.CallerIDHeader, bridgemw.MCPSessionHeader,
			"Mcp-Protocol-Version", "Last-Event-ID",
		},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After", "X-RateLimit-Remaining", bridgemw.MCPSessionHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", handlers.HealthCheck(deps))
	r.Get("/readyz", handlers.ReadinessCheck(deps))
	if deps.Config.Observability.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	// Backends authenticate inside the socket so failures become close codes.
	r.Get("/ws/backend", handlers.BackendSocketHandler(deps))

	authenticated := func(r chi.Router) {
		r.Use(deps.Resolver.Middleware)
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/status", handlers.StatusHandler(deps))
		r.Get("/auth/login-url", handlers.LoginURLHandler(deps))

		r.Group(func(r chi.Router) {
			authenticated(r)

			r.Post("/commands/{name}", handlers.CommandHandler(deps))

			r.Route("/targets", func(r chi.Router) {
				r.Get("/", handlers.ListTargetsHandler(deps))
				r.Put("/active", handlers.SelectTargetHandler(deps))
				r.Delete("/active", handlers.ClearTargetHandler(deps))
			})

			r.Get("/events", handlers.EventsHandler(deps))
		})
	})

	// MCP streamable HTTP transport
	r.Group(func(r chi.Router) {
		authenticated(r)
		r.Handle("/mcp", handlers.MCPHandler(deps))
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusNotFound, "not_found", "endpoint not found", nil)
	})

	return r
}

// requestLogger writes one structured line per request.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)))
		})
	}
}
