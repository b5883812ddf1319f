package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/p-arndt/snippetd/internal/execution"
	"github.com/p-arndt/snippetd/internal/store"
)

// Error codes returned in API responses
const (
	ErrCodeSnippetNotFound   = "SNIPPET_NOT_FOUND"
	ErrCodeOutputNotFound    = "OUTPUT_NOT_FOUND"
	ErrCodeNotRunning        = "EXECUTION_NOT_RUNNING"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeEngineUnavailable = "ENGINE_UNAVAILABLE"
)

// APIError represents a structured API error response
type APIError struct {
	Code    string         `json:"error_code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// writeAPIError writes a structured error response with appropriate HTTP status
func writeAPIError(w http.ResponseWriter, err error) {
	apiErr := APIError{Code: ErrCodeInternalError, Message: err.Error()}
	statusCode := http.StatusInternalServerError

	switch {
	case errors.Is(err, store.ErrNotFound):
		apiErr.Code = ErrCodeSnippetNotFound
		statusCode = http.StatusNotFound
	case errors.Is(err, execution.ErrNotRunning):
		apiErr.Code = ErrCodeNotRunning
		statusCode = http.StatusNotFound
	}

	writeError(w, statusCode, apiErr)
}

// writeValidationError writes a 400 Bad Request with validation details
func writeValidationError(w http.ResponseWriter, message string, details map[string]any) {
	writeError(w, http.StatusBadRequest, APIError{
		Code:    ErrCodeInvalidRequest,
		Message: message,
		Details: details,
	})
}

func writeUnauthorizedError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, APIError{
		Code:    ErrCodeUnauthorized,
		Message: message,
	})
}

func writeError(w http.ResponseWriter, status int, apiErr APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiErr)
}
