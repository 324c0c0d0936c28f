package router

import (
	"net/http"
	"time"

	"checkpoint-sync-api/internal/handler"
	"checkpoint-sync-api/internal/identity"
	"checkpoint-sync-api/internal/middleware"
	"checkpoint-sync-api/pkg/apierror"
	"checkpoint-sync-api/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler     *handler.Handler
	SaveHandler *handler.SaveHandler
	Logger      *zap.Logger

	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler

	// RateLimitRequests per RateLimitWindow per device on the save routes. Zero disables the limit.
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.NewRecovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.NewLogging(logger))
	r.Use(middleware.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.RequestIDHeader, identity.HeaderName},
		ExposedHeaders:   []string{middleware.RequestIDHeader, "Content-Disposition", "ETag"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, apierror.NotFound(""))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, &apierror.Error{
			StatusCode: http.StatusMethodNotAllowed,
			Code:       "METHOD_NOT_ALLOWED",
			Message:    "method not allowed",
		})
	})

	// PUBLIC routes (no device identity required)
	if cfg.Handler != nil {
		r.Get("/", cfg.Handler.Index)
	}
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Health check endpoints
		if cfg.Handler != nil {
			r.Get("/health", cfg.Handler.Health)
			r.Get("/ready", cfg.Handler.Ready)
		}

		if cfg.SaveHandler == nil {
			return
		}

		// Save endpoints are scoped to the calling device.
		r.Group(func(r chi.Router) {
			r.Use(middleware.DeviceIdentity)
			if cfg.RateLimitRequests > 0 {
				r.Use(httprate.Limit(cfg.RateLimitRequests, cfg.RateLimitWindow,
					httprate.WithKeyFuncs(keyByDevice),
					httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
						response.Error(w, &apierror.Error{
							StatusCode: http.StatusTooManyRequests,
							Code:       "RATE_LIMITED",
							Message:    "too many requests",
						})
					}),
				))
			}

			r.Route("/saves", func(r chi.Router) {
				r.Post("/", cfg.SaveHandler.Create)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", cfg.SaveHandler.Get)
					r.Delete("/", cfg.SaveHandler.Delete)
					r.Get("/data", cfg.SaveHandler.Download)
				})
			})
			r.Get("/titles/{title_id}/saves", cfg.SaveHandler.ListByTitle)
		})
	})

	return r
}

// keyByDevice limits per owner key, falling back to the client IP.
func keyByDevice(r *http.Request) (string, error) {
	if key := middleware.GetOwnerKey(r.Context()); key != "" {
		return key, nil
	}
	return httprate.KeyByIP(r)
}
