package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"launchpad/internal/apperror"
	"launchpad/internal/models"
	"launchpad/internal/principal"
	"launchpad/internal/storage"
)

// handleIndex returns basic service information
// GET / - Returns service info and available endpoints
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"service":     "launchpad",
		"version":     "1.0.0",
		"description": "Token canister deployment orchestrator",
		"endpoints": map[string]string{
			"GET /":                       "This page - Service information",
			"GET /health":                 "Liveness check",
			"GET /ready":                  "Readiness check (database ping)",
			"GET /metrics":                "Prometheus metrics for monitoring",
			"GET /tokens":                 "List deployments (supports ?owner=, ?limit=, ?offset=)",
			"GET /tokens/{id}":            "Deployment status by record id or canister id",
			"GET /tokens/{id}/operations": "Mint, burn and transfer history of a token",
		},
	}

	s.sendJSON(w, http.StatusOK, info)
}

// handleHealth returns health status
// GET /health - Liveness for monitoring systems
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "launchpad",
	}

	s.sendJSON(w, http.StatusOK, health)
}

// handleReady checks the database
// GET /ready
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.repository.Ping(r.Context()); err != nil {
		slog.Error("Readiness check failed", "error", err)
		s.sendError(w, "Database unavailable", http.StatusServiceUnavailable)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"status": "ready"})
}

// handleMetrics returns Prometheus metrics
// GET /metrics - Prometheus scraping endpoint
func (s *Server) handleMetrics() http.Handler {
	return promhttp.Handler()
}

// =============================================================================
// TOKEN ENDPOINTS
// =============================================================================

// handleListTokens lists deployments, newest first
// GET /tokens?owner=<principal>&limit=50&offset=0
func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, offset := pagination(query.Get("limit"), query.Get("offset"))

	owner := strings.TrimSpace(query.Get("owner"))
	if owner != "" {
		if _, err := principal.Decode(owner); err != nil {
			s.sendAppError(w, apperror.Validation("owner is not a valid principal"))
			return
		}
	}

	tokens, err := s.repository.ListTokens(r.Context(), owner, limit, offset)
	if err != nil {
		slog.Error("Failed to list tokens", "error", err)
		s.sendError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	responses := make([]models.TokenResponse, len(tokens))
	for i, t := range tokens {
		responses[i] = BuildTokenResponse(t)
	}

	s.sendJSON(w, http.StatusOK, models.TokenListResponse{
		Tokens:   responses,
		Total:    len(responses),
		Page:     offset/limit + 1,
		PageSize: limit,
	})
}

// handleGetToken returns one deployment record
// GET /tokens/{id} where id is the record uuid or the canister principal
func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	token, err := s.lookupToken(r, id)
	if err != nil {
		s.sendLookupError(w, id, err)
		return
	}

	s.sendJSON(w, http.StatusOK, BuildTokenResponse(token))
}

// handleListOperations returns the operation history of a deployed token
// GET /tokens/{id}/operations?kind=mint&limit=50&offset=0
func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	query := r.URL.Query()

	token, err := s.lookupToken(r, id)
	if err != nil {
		s.sendLookupError(w, id, err)
		return
	}
	if token.CanisterID == nil {
		s.sendJSON(w, http.StatusOK, models.OperationsResponse{Operations: []models.TokenOperation{}})
		return
	}

	kind := models.OperationKind(query.Get("kind"))
	if kind != "" && !kind.Valid() {
		s.sendAppError(w, apperror.Validation("unknown operation kind %q", kind))
		return
	}
	limit, offset := pagination(query.Get("limit"), query.Get("offset"))

	ops, err := s.repository.ListOperations(r.Context(), models.OperationFilter{
		CanisterID: *token.CanisterID,
		Kind:       kind,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		slog.Error("Failed to list operations", "canister_id", *token.CanisterID, "error", err)
		s.sendError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	out := make([]models.TokenOperation, len(ops))
	for i, op := range ops {
		out[i] = *op
	}
	s.sendJSON(w, http.StatusOK, models.OperationsResponse{
		CanisterID: *token.CanisterID,
		Operations: out,
		Total:      len(out),
	})
}

func (s *Server) lookupToken(r *http.Request, id string) (*models.Token, error) {
	if parsed, err := uuid.Parse(id); err == nil {
		return s.repository.GetToken(r.Context(), parsed)
	}
	if _, err := principal.Decode(id); err != nil {
		return nil, apperror.Validation("id must be a record id or a canister principal")
	}
	return s.repository.GetTokenByCanister(r.Context(), id)
}

func (s *Server) sendLookupError(w http.ResponseWriter, id string, err error) {
	var appErr *apperror.Error
	switch {
	case errors.As(err, &appErr):
		s.sendAppError(w, appErr)
	case errors.Is(err, storage.ErrNotFound):
		s.sendError(w, "Token not found", http.StatusNotFound)
	default:
		slog.Error("Failed to get token", "id", id, "error", err)
		s.sendError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func pagination(limitStr, offsetStr string) (int, int) {
	limit := 50 // default
	if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 100 {
		limit = parsed
	}
	offset := 0
	if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
		offset = parsed
	}
	return limit, offset
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// sendError sends a JSON error response
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, models.ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
		Code:    code,
	})
}

// sendAppError renders the public part of an application error. The cause
// stays in the logs.
func (s *Server) sendAppError(w http.ResponseWriter, err *apperror.Error) {
	s.sendJSON(w, err.Kind.Status(), ErrorResponse(err))
}
