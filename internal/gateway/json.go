package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorResponse is the JSON body of gateway error responses.
// Login is set on 401 responses so the SPA knows where to send the user.
type ErrorResponse struct {
	Error string `json:"error"`
	Login string `json:"login,omitempty"`
}

// writeJSON writes data with the given status. Responses carry session state,
// so they are marked uncacheable.
func writeJSON(ctx context.Context, w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.ErrorContext(ctx, "failed to encode JSON response", "error", err)
	}
}

// writeJSONError writes an ErrorResponse. Unauthorized responses point at the login page.
func writeJSONError(ctx context.Context, w http.ResponseWriter, message string, status int) {
	resp := ErrorResponse{Error: message}
	if status == http.StatusUnauthorized {
		resp.Login = LoginPath
	}
	writeJSON(ctx, w, resp, status)
}
