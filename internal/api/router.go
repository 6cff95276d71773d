package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/hush/internal/api/middleware"
	"github.com/eldtechnologies/hush/internal/config"
	"github.com/eldtechnologies/hush/internal/handlers"
	"github.com/eldtechnologies/hush/internal/hub"
	"github.com/eldtechnologies/hush/internal/ws"
)

// NewRouter creates and configures the HTTP router. redisClient may be nil;
// rate limiting is then disabled.
func NewRouter(logger zerolog.Logger, relay *hub.Hub, redisClient *redis.Client, cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024))

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	limiter := middleware.NewRateLimiter(redisClient, logger, cfg.RateLimitWhitelist)
	r.Use(limiter.Middleware)

	// CORS for the REST surface; the websocket upgrade has its own origin check
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(relay, redisClient)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/presence", h.Presence)
	r.Get("/stats", h.Stats)

	// Real-time relay
	wsHandler := ws.NewHandler(relay, cfg.AllowedOrigins, cfg.MaxMessageSize, logger)
	r.Get("/ws", wsHandler.ServeHTTP)

	return r
}
