package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aircast-dev/aircast/internal/config"
	"github.com/aircast-dev/aircast/internal/metrics"
	"github.com/aircast-dev/aircast/internal/station"
	"github.com/aircast-dev/aircast/internal/storage/sqlite"
	"github.com/aircast-dev/aircast/internal/websocket"
	"github.com/aircast-dev/aircast/pkg/logger"
)

// Router is the API router
type Router struct {
	handler    *Handler
	middleware *Middleware
	exporter   *metrics.Exporter
	config     *config.Config
	logger     *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(st *station.Station, samples *sqlite.SampleStorage, wsServer *websocket.Server, exporter *metrics.Exporter, cfg *config.Config, log *logger.Logger) *Router {
	return &Router{
		handler:    NewHandler(st, samples, wsServer, log),
		middleware: NewMiddleware(log),
		exporter:   exporter,
		config:     cfg,
		logger:     log.Named("api-router"),
	}
}

// Routes returns the API routes
func (r *Router) Routes() http.Handler {
	router := chi.NewRouter()

	// Middleware
	router.Use(r.middleware.RequestID)
	router.Use(r.middleware.Logger)
	router.Use(r.middleware.Recoverer)
	router.Use(r.middleware.CORS(r.config.Server.CORSAllowedOrigins))

	// API routes
	router.Route("/api/v1", func(router chi.Router) {
		// Channel routes
		router.Get("/channels", r.handler.GetChannels)
		router.Get("/channels/{id}", r.handler.GetChannelByID)
		router.Get("/channels/{id}/metrics", r.handler.GetChannelMetrics)
		router.Get("/channels/{id}/samples", r.handler.GetChannelSamples)

		// Viewer routes
		router.Post("/channels/{id}/viewers", r.handler.JoinChannel)
		router.Delete("/channels/{id}/viewers/{viewerID}", r.handler.LeaveChannel)

		// Live metrics feed
		router.Get("/channels/{id}/ws", r.handler.HandleChannelFeed)

		// Health check
		router.Get("/health", r.handler.GetHealth)
	})

	// Prometheus scrape endpoint
	if r.exporter != nil {
		router.Handle("/metrics", r.exporter.Handler())
	}

	return router
}
