package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/p-arndt/snippetd/internal/execution"
	"github.com/p-arndt/snippetd/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.engine != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.engine.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, APIError{
				Code:    ErrCodeEngineUnavailable,
				Message: err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"executions": len(s.executions.List()),
	})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.executions.List())
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h, ok := s.executions.Get(id)
	if !ok {
		writeAPIError(w, fmt.Errorf("execution %s: %w", id, execution.ErrNotRunning))
		return
	}
	writeJSON(w, http.StatusOK, h)
}

type submitRequest struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Language string `json:"language"`
}

// handleSubmitSnippet stores the snippet with its run flag set. The change
// feed picks it up from there; nothing is started synchronously.
func (s *Server) handleSubmitSnippet(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeValidationError(w, "request body too large", map[string]any{"limit_bytes": maxErr.Limit})
			return
		}
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if err := validateSubmitRequest(req); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	if req.Language == "" {
		req.Language = "javascript"
	}

	sn := &store.Snippet{ID: req.ID, Text: req.Text, Language: req.Language, Running: true}
	if err := s.snippets.SubmitSnippet(r.Context(), sn); err != nil {
		s.logger.Error("submit snippet", "snippet_id", req.ID, "error", err)
		writeAPIError(w, err)
		return
	}

	saved, err := s.snippets.GetSnippet(r.Context(), req.ID)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, saved)
}

func (s *Server) handleGetSnippet(w http.ResponseWriter, r *http.Request) {
	sn, err := s.snippets.GetSnippet(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sn)
}

type outputResponse struct {
	ID      string `json:"id"`
	Output  string `json:"output"`
	Running bool   `json:"running"`
}

func (s *Server) handleGetOutput(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	out, err := s.snippets.GetOutput(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, APIError{Code: ErrCodeOutputNotFound, Message: err.Error()})
			return
		}
		writeAPIError(w, err)
		return
	}
	_, running := s.executions.Get(id)
	writeJSON(w, http.StatusOK, outputResponse{ID: id, Output: out, Running: running})
}
