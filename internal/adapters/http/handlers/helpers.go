package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/longregen/toolrouter/internal/adapters/http/dto"
	"github.com/longregen/toolrouter/internal/adapters/http/encoding"
	"github.com/longregen/toolrouter/internal/domain"
)

const maxBodyBytes = 1024 * 1024

// respond writes data as JSON or MessagePack depending on the Accept header
func respond(w http.ResponseWriter, r *http.Request, data any, status int) {
	if err := encoding.Write(w, r, status, data); err != nil {
		slog.Default().Warn("failed to write response", "path", r.URL.Path, "error", err)
	}
}

func respondError(w http.ResponseWriter, r *http.Request, code, message string, status int) {
	respond(w, r, dto.APIError{Error: code, Message: message, Status: status}, status)
}

// respondDomainError maps domain errors onto HTTP status codes.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, errorType := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, domain.ErrToolNotFound),
		errors.Is(err, domain.ErrServerNotFound),
		errors.Is(err, domain.ErrNotFound):
		status, errorType = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrServerExists):
		status, errorType = http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrInvalidConfig),
		errors.Is(err, domain.ErrInvalidTransport),
		errors.Is(err, domain.ErrInvalidCall),
		errors.Is(err, domain.ErrInvalidToolArgs):
		status, errorType = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, domain.ErrRouterClosed),
		errors.Is(err, domain.ErrHubShuttingDown):
		status, errorType = http.StatusServiceUnavailable, "unavailable"
	}
	respondError(w, r, errorType, err.Error(), status)
}

// parseIntQuery parses an integer query parameter with a default value
func parseIntQuery(r *http.Request, name string, defaultValue int) int {
	value := r.URL.Query().Get(name)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

// parseListQuery splits a comma separated query parameter
func parseListQuery(r *http.Request, name string) []string {
	var out []string
	for _, part := range strings.Split(r.URL.Query().Get(name), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// validateURLParam validates and returns a URL parameter
func validateURLParam(r *http.Request, w http.ResponseWriter, paramName, errorField string) (string, bool) {
	value := chi.URLParam(r, paramName)
	if value == "" {
		respondError(w, r, "invalid_request", errorField+" is required", http.StatusBadRequest)
		return "", false
	}
	return value, true
}

// decodeBody decodes a JSON or MessagePack request body
func decodeBody[T any](r *http.Request, w http.ResponseWriter) (*T, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req T
	if err := encoding.Decode(r, &req); err != nil {
		respondError(w, r, "invalid_request", "Invalid request body", http.StatusBadRequest)
		return nil, false
	}
	return &req, true
}
