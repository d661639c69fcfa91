// Package web serves the read-only operator surface: run listings, event
// logs, snapshots, replay verification, and stats, all as JSON. It never
// mutates a run; every write goes through the engine.
package web

import (
	"fmt"
	"log"
	"net/http"

	"github.com/interlockhq/interlock/internal/bus"
)

// Server is the read-only operator API server.
type Server struct {
	store *bus.Store
	port  int
}

// NewServer creates a Server over an opened state bus.
func NewServer(store *bus.Store, port int) *Server {
	return &Server{store: store, port: port}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /runs", s.handleRuns)
	mux.HandleFunc("GET /runs/{id}", s.handleRun)
	mux.HandleFunc("GET /runs/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /runs/{id}/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /runs/{id}/replay", s.handleReplay)
	mux.HandleFunc("GET /runs/{id}/report", s.handleReport)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// Start blocks serving HTTP.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	log.Printf("interlock operator API listening on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}
