package authapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/florianilch/tokenshell/internal/authapi"
)

func newBackend(t *testing.T, handler http.HandlerFunc) *authapi.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := authapi.New(srv.URL)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return client
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name      string
		response  string
		wantEmail string
		wantClaim string
	}{
		{
			name:      "camelCase with user",
			response:  `{"accessToken":"a1","refreshToken":"r1","user":{"email":"a@b.com","role":"admin"}}`,
			wantEmail: "a@b.com",
			wantClaim: "admin",
		},
		{
			name:     "snake_case without user",
			response: `{"access_token":"a1","refresh_token":"r1","token_type":"bearer"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != authapi.DefaultLoginPath || r.Method != http.MethodPost {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				if r.Header.Get("Authorization") != "" {
					t.Error("login must be unauthenticated")
				}
				var body authapi.LoginRequest
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					t.Errorf("decode: %v", err)
				}
				if body.Email != "a@b.com" || body.Password != "pw" {
					t.Errorf("body = %+v", body)
				}
				_, _ = w.Write([]byte(tt.response))
			})

			resp, err := client.Login(context.Background(), "a@b.com", "pw")
			if err != nil {
				t.Fatalf("Login failed: %v", err)
			}
			if resp.AccessToken != "a1" || resp.RefreshToken != "r1" {
				t.Errorf("tokens = %q/%q", resp.AccessToken, resp.RefreshToken)
			}
			if tt.wantEmail == "" {
				if resp.User != nil {
					t.Errorf("user = %+v, want nil", resp.User)
				}
				return
			}
			if resp.User == nil || resp.User.Email != tt.wantEmail {
				t.Fatalf("user = %+v, want email %q", resp.User, tt.wantEmail)
			}
			if tt.wantClaim != "" && resp.User.Claims["role"] != tt.wantClaim {
				t.Errorf("role claim = %v, want %q", resp.User.Claims["role"], tt.wantClaim)
			}
		})
	}
}

func TestLoginRejected(t *testing.T) {
	client := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Incorrect username or password"}`))
	})

	_, err := client.Login(context.Background(), "a@b.com", "wrong")
	var apiErr *authapi.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *authapi.Error", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Message != "Incorrect username or password" {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if !authapi.IsUnauthorized(err) {
		t.Error("IsUnauthorized = false")
	}
}

func TestLoginValidation(t *testing.T) {
	client := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend must not be called for invalid input")
	})

	for _, tc := range []struct{ email, password string }{
		{"", "pw"},
		{"not-an-email", "pw"},
		{"a@b.com", ""},
	} {
		if _, err := client.Login(context.Background(), tc.email, tc.password); !errors.Is(err, authapi.ErrInvalidRequest) {
			t.Errorf("Login(%q, %q) error = %v, want ErrInvalidRequest", tc.email, tc.password, err)
		}
	}
}

func TestLoginMissingAccessToken(t *testing.T) {
	client := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"refreshToken":"r1"}`))
	})

	if _, err := client.Login(context.Background(), "a@b.com", "pw"); !errors.Is(err, authapi.ErrMalformedResponse) {
		t.Errorf("error = %v, want ErrMalformedResponse", err)
	}
}

func TestRefresh(t *testing.T) {
	client := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != authapi.DefaultRefreshPath {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body authapi.RefreshRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.RefreshToken != "r1" {
			t.Errorf("refresh token = %q", body.RefreshToken)
		}
		_, _ = w.Write([]byte(`{"accessToken":"a2"}`))
	})

	tok, err := client.Refresh(context.Background(), "r1")
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if tok.AccessToken != "a2" || tok.RefreshToken != "" || tok.Type() != "Bearer" {
		t.Errorf("token = %+v", tok)
	}

	if _, err := client.Refresh(context.Background(), ""); !errors.Is(err, authapi.ErrInvalidRequest) {
		t.Errorf("empty refresh token error = %v", err)
	}
}

func TestLogout(t *testing.T) {
	var called bool
	client := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		if got := r.Header.Get("Authorization"); got != "Bearer a1" {
			t.Errorf("Authorization = %q", got)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.Logout(context.Background(), "a1", "r1"); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if !called {
		t.Error("logout endpoint not called")
	}
}

func TestLogoutDisabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend must not be called when logout is disabled")
	}))
	t.Cleanup(srv.Close)

	endpoints := authapi.DefaultEndpoints()
	endpoints.Logout = ""
	client, err := authapi.New(srv.URL, authapi.WithEndpoints(endpoints))
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Logout(context.Background(), "a1", "r1"); err != nil {
		t.Errorf("Logout = %v", err)
	}
}

func TestNewRejectsRelativeURL(t *testing.T) {
	if _, err := authapi.New("/api"); err == nil {
		t.Error("expected error for relative base URL")
	}
}
