package handler

import (
	"log/slog"
	"net/http"

	"github.com/dandantas/certwatch/pkg/middleware"
)

// Router handles HTTP routing
type Router struct {
	checkHandler   *CheckHandler
	healthHandler  *HealthHandler
	metricsHandler http.Handler
	logger         *slog.Logger
}

// NewRouter creates a new router. metricsHandler may be nil.
func NewRouter(
	checkHandler *CheckHandler,
	healthHandler *HealthHandler,
	metricsHandler http.Handler,
	logger *slog.Logger,
) *Router {
	return &Router{
		checkHandler:   checkHandler,
		healthHandler:  healthHandler,
		metricsHandler: metricsHandler,
		logger:         logger,
	}
}

// Handler returns the configured HTTP handler with middleware
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", rt.healthHandler.Health)
	mux.HandleFunc("/ready", rt.healthHandler.Ready)
	if rt.metricsHandler != nil {
		mux.Handle("/metrics", rt.metricsHandler)
	}

	mux.HandleFunc("/api/check", rt.checkHandler.Check)

	handler := middleware.Recovery(rt.logger)(mux)
	handler = middleware.Logging(rt.logger)(handler)
	handler = middleware.CorrelationID(handler)

	return handler
}
