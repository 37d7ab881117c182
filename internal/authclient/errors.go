package authclient

import (
	"fmt"
	"net/http"
	"strings"
)

// RefreshError is returned when a 401 could not be recovered because the
// refresh call failed. Stored credentials have been cleared when it is returned.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refreshing access token: %v", e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

// StatusError is a non-2xx API response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	msg := strings.TrimSpace(string(e.Body))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, msg)
}
