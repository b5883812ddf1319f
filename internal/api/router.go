package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/p-arndt/snippetd/internal/config"
)

type Server struct {
	cfg        *config.Config
	executions ExecutionService
	snippets   SnippetStore
	engine     Pinger
	logger     *slog.Logger
	router     chi.Router
}

func NewServer(cfg *config.Config, executions ExecutionService, snippets SnippetStore, engine Pinger, logger *slog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		executions: executions,
		snippets:   snippets,
		engine:     engine,
		logger:     logger,
		router:     chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	// Health check (no auth)
	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/executions", s.handleListExecutions)
		r.Get("/executions/{id}", s.handleGetExecution)

		r.Post("/snippets", s.handleSubmitSnippet)
		r.Get("/snippets/{id}", s.handleGetSnippet)
		r.Get("/snippets/{id}/output", s.handleGetOutput)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
