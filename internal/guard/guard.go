// Package guard gates protected routes behind an authenticated session.
//
// The guard reads session state only and performs no network calls. Reacting to a
// logout (for example by navigating away) is left to the surrounding routing layer.
package guard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// Authenticator reports whether the current session is authenticated.
type Authenticator interface {
	IsAuthenticated(ctx context.Context) bool
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context) bool

func (f AuthenticatorFunc) IsAuthenticated(ctx context.Context) bool {
	return f(ctx)
}

// Allow reports whether navigation to a protected view may proceed.
func Allow(ctx context.Context, auth Authenticator) bool {
	return auth != nil && auth.IsAuthenticated(ctx)
}

// Require wraps protected handlers. Unauthenticated browser navigations are
// redirected to loginPath with the original location in the "next" query parameter;
// requests that prefer JSON receive 401 instead.
func Require(auth Authenticator, loginPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if Allow(r.Context(), auth) {
				next.ServeHTTP(w, r)
				return
			}

			if wantsJSON(r) {
				writeUnauthorized(w)
				return
			}

			http.Redirect(w, r, LoginURL(loginPath, r.URL.RequestURI()), http.StatusSeeOther)
		})
	}
}

// RequireAPI wraps protected API handlers, answering 401 when unauthenticated.
func RequireAPI(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !Allow(r.Context(), auth) {
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}

// LoginURL builds the redirect target for loginPath, remembering next.
func LoginURL(loginPath, next string) string {
	if next == "" || next == loginPath {
		return loginPath
	}
	return loginPath + "?" + url.Values{"next": {next}}.Encode()
}

// SafeNext returns next if it is a local absolute path, and fallback otherwise.
// Prevents open redirects through the "next" parameter.
func SafeNext(next, fallback string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return fallback
	}
	return next
}

func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "text/html") {
		return false
	}
	return strings.Contains(accept, "application/json") || r.Header.Get("X-Requested-With") == "XMLHttpRequest"
}
