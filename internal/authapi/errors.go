package authapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrInvalidRequest is returned when request input fails validation before sending.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrMalformedResponse is returned when a success response lacks required fields.
	ErrMalformedResponse = errors.New("malformed response")
)

// Error is a non-2xx response from an auth endpoint.
type Error struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %d %s", e.Endpoint, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s: %d %s", e.Endpoint, e.StatusCode, e.Message)
}

// Unauthorized reports whether the backend rejected the supplied credentials.
func (e *Error) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsUnauthorized reports whether err is an *Error for a 401/403 response.
func IsUnauthorized(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Unauthorized()
}

// errorBody covers the common error envelopes: {"detail"}, {"error"}, {"message"}.
type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func newError(endpoint string, status int, body []byte) *Error {
	return &Error{
		Endpoint:   endpoint,
		StatusCode: status,
		Message:    errorMessage(body),
	}
}

func errorMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return strings.TrimSpace(string(body))
	}

	var detail string
	if len(eb.Detail) > 0 && json.Unmarshal(eb.Detail, &detail) == nil {
		return detail
	}
	return firstNonEmpty(eb.Error, eb.Message, strings.TrimSpace(string(eb.Detail)))
}
