// Package handlerutils holds small helpers shared by the HTTP handlers.
package handlerutils

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/obot-platform/atlassian-oauth/pkg/types"
)

// JSON writes obj with the given status. Encoding failures are logged, the
// status line has already been sent by then.
func JSON(w http.ResponseWriter, statusCode int, obj any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if obj == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(obj); err != nil {
		slog.Error("failed to encode json response", "error", err)
	}
}

// Error writes an OAuth style error body.
func Error(w http.ResponseWriter, statusCode int, code, description string) {
	JSON(w, statusCode, types.OAuthError{
		Error:            code,
		ErrorDescription: description,
	})
}

// GetClientIP extracts the client IP from X-Forwarded-For, X-Real-IP or
// RemoteAddr, in that order.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
