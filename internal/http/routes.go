package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/field-advisory/internal/observability"
	"github.com/kjstillabower/field-advisory/internal/traffic"
)

// NewRouter wires the handler's routes. Health and metrics are never rate
// limited; the advisory, risk and transcription routes share limiter.
// limiter and inFlight may be nil.
func NewRouter(h *Handler, logger *zap.Logger, limiter *rate.Limiter, tr *traffic.Tracker, inFlight *InFlightTracker) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	if inFlight != nil {
		router.Use(InFlightMiddleware(inFlight))
	}
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := router.NewRoute().Subrouter()
	api.Use(RateLimitMiddleware(limiter, tr))
	api.HandleFunc("/advisories", h.PostAdvisory).Methods(http.MethodPost)
	api.HandleFunc("/risk", h.PostRisk).Methods(http.MethodPost)
	api.HandleFunc("/transcriptions", h.PostTranscription).Methods(http.MethodPost)
	return router
}
