package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"formflow/internal/auth"
	"formflow/internal/errorz"
	"formflow/internal/metrics"
	"formflow/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// WriteError writes a standardized error response
func WriteError(w http.ResponseWriter, code int, errCode, message string, log *zap.Logger) {
	if code >= http.StatusInternalServerError {
		log.Error("API error", zap.String("code", errCode), zap.String("message", message))
	} else {
		log.Debug("API error", zap.String("code", errCode), zap.String("message", message))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	resp := ErrorResponse{
		Error:   errCode,
		Message: message,
	}
	if errCode != "" {
		resp.Code = errCode
	}

	json.NewEncoder(w).Encode(resp)
}

// writeServiceError maps service sentinels onto HTTP statuses. Anything
// unrecognised is a 500 reported under fallback.
func writeServiceError(w http.ResponseWriter, err error, fallback string, log *zap.Logger) {
	switch {
	case errors.Is(err, errorz.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", err.Error(), log)
	case errors.Is(err, errorz.ErrForbidden):
		WriteError(w, http.StatusForbidden, "forbidden", err.Error(), log)
	case errors.Is(err, errorz.ErrInvalidInput):
		WriteError(w, http.StatusBadRequest, "invalid_input", err.Error(), log)
	case errors.Is(err, errorz.ErrVersionConflict):
		WriteError(w, http.StatusConflict, "version_conflict", err.Error(), log)
	case errors.Is(err, errorz.ErrSessionClosed):
		WriteError(w, http.StatusConflict, "session_closed", err.Error(), log)
	default:
		WriteError(w, http.StatusInternalServerError, fallback, err.Error(), log)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeVersioned sends a form-derived body with its version as the ETag
func writeVersioned(w http.ResponseWriter, status int, version int64, v interface{}) {
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(version, 10)))
	writeJSON(w, status, v)
}

// expectedVersion reads If-Match. A missing header means no version check.
// Accepts 3, "3" and W/"3".
func expectedVersion(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.Header.Get("If-Match"))
	if raw == "" || raw == "*" {
		return 0, nil
	}
	raw = strings.TrimPrefix(raw, "W/")
	raw = strings.Trim(raw, `"`)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: If-Match must be a form version", errorz.ErrInvalidInput)
	}
	return v, nil
}

func scopeFrom(r *http.Request) service.Scope {
	id := auth.GetIdentity(r.Context())
	return service.Scope{WorkspaceID: id.WorkspaceID, UserID: id.UserID}
}

// RequireWorkspace rejects editor requests that carry no workspace
func RequireWorkspace(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth.GetWorkspaceID(r.Context()) == "" {
				WriteError(w, http.StatusUnauthorized, "unauthorized", "workspace credentials required", log)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger logs HTTP requests and records their latency
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip wrapping for WebSocket upgrades - they need direct access to ResponseWriter
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			metrics.ObserveHTTP(r.Method, route, wrapped.statusCode, duration)

			log.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", route),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", duration),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
