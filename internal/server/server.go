// Package server is the thin HTTP boundary over the event store. It carries
// no auth and no UI; those belong to the surrounding control plane.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/variantstore/variantstore/internal/logging"
	"github.com/variantstore/variantstore/internal/store"
)

type Server struct {
	backend   *store.SQLiteBackend
	events    *store.EventStore
	addr      string
	router    *http.ServeMux
	log       *slog.Logger
	startTime time.Time
}

func New(backend *store.SQLiteBackend, events *store.EventStore, addr string) *Server {
	srv := &Server{
		backend:   backend,
		events:    events,
		addr:      addr,
		router:    http.NewServeMux(),
		log:       logging.Component("server"),
		startTime: time.Now(),
	}

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("POST /api/experiments", s.handleCreateExperiment)
	s.router.HandleFunc("GET /api/experiments", s.handleListExperiments)
	s.router.HandleFunc("POST /api/experiments/{id}/variants/{variantID}/events", s.handleCreateEvent)
	s.router.HandleFunc("GET /api/experiments/{id}/results", s.handleResults)
	s.router.HandleFunc("DELETE /api/experiments/{id}/events", s.handleDeleteEvents)
	s.router.HandleFunc("GET /api/events", s.handleListEvents)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.log.Info("listening", "addr", s.addr)
	return http.ListenAndServe(s.addr, s.router)
}
