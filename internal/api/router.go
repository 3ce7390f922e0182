package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cowrite/cowrite/internal/api/middleware"
)

// NewRouter builds the top-level *mux.Router for the request surface.
func NewRouter(deps *Dependencies) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Recovery(deps.Log))
	r.Use(middleware.Logging(deps.Log))

	r.HandleFunc("/api/socket/{id}", deps.handleSocket).Methods(http.MethodGet)
	r.HandleFunc("/api/text/{id}", deps.handleText).Methods(http.MethodGet)
	r.HandleFunc("/api/create/{language}", deps.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/api/otp/{id}", deps.handleGenerateOTP).Methods(http.MethodPost)
	r.HandleFunc("/api/stats", deps.handleStats).Methods(http.MethodGet)

	if deps.MetricsEnabled {
		r.Handle("/api/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	return r
}
