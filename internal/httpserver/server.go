package httpserver

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	Mux *mux.Router
}

// New returns a router with /metrics mounted. Health routes are added by
// the caller since readiness checks differ per process.
func New() *Server {
	m := mux.NewRouter()
	m.Handle("/metrics", promhttp.Handler())
	return &Server{Mux: m}
}
