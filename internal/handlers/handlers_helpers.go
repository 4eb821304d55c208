package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"manualqa-backend/internal/logger"
	"manualqa-backend/internal/services"
	"manualqa-backend/internal/store"
	"manualqa-backend/pkg/httputil"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// respondServiceError maps service errors onto HTTP status codes.
func respondServiceError(w http.ResponseWriter, r *http.Request, log *logger.Logger, action string, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		httputil.RespondError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, services.ErrNotConfigured):
		log.Error(action+" failed: service not configured", "error", err)
		httputil.RespondError(w, http.StatusServiceUnavailable, "Service not configured")
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn(action+" timed out", "request_id", middleware.GetReqID(r.Context()))
		httputil.RespondError(w, http.StatusGatewayTimeout, "Request timed out")
	default:
		log.Error(action+" failed", "request_id", middleware.GetReqID(r.Context()), "error", err)
		httputil.RespondError(w, http.StatusInternalServerError, "Failed to "+action)
	}
}

// uuidParam parses a UUID path parameter.
func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s %q", name, raw)
	}
	return id, nil
}

// queryInt reads a non-negative integer query parameter.
func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return v, nil
}
