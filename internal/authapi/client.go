package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/oauth2"
)

// Default endpoint paths, relative to the base URL.
const (
	DefaultLoginPath       = "/auth/login"
	DefaultRefreshPath     = "/auth/refresh"
	DefaultLogoutPath      = "/auth/logout"
	DefaultCurrentUserPath = "/auth/users/me"
)

// maxResponseBody bounds how much of an auth response is read.
const maxResponseBody = 1 << 20

// Endpoints holds the auth endpoint paths. An empty LogoutPath disables the
// backend logout notification.
type Endpoints struct {
	Login       string
	Refresh     string
	Logout      string
	CurrentUser string
}

// DefaultEndpoints returns the conventional endpoint layout.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Login:       DefaultLoginPath,
		Refresh:     DefaultRefreshPath,
		Logout:      DefaultLogoutPath,
		CurrentUser: DefaultCurrentUserPath,
	}
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for auth calls.
// It must not route through the authclient pipeline.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithEndpoints overrides the endpoint paths.
func WithEndpoints(e Endpoints) Option {
	return func(c *Client) {
		c.endpoints = e
	}
}

// Client calls the backend auth endpoints.
type Client struct {
	baseURL    *url.URL
	endpoints  Endpoints
	httpClient *http.Client
	validate   *validator.Validate
}

// New creates a Client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host required", baseURL)
	}

	c := &Client{
		baseURL:   u,
		endpoints: DefaultEndpoints(),
		httpClient: &http.Client{
			// Auth calls have no caller-visible timeout otherwise
			Timeout: 30 * time.Second,
		},
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Endpoints returns the configured endpoint paths.
func (c *Client) Endpoints() Endpoints {
	return c.endpoints
}

// URL resolves path against the base URL.
func (c *Client) URL(path string) string {
	return c.baseURL.JoinPath(path).String()
}

// Login exchanges email and password for a credential pair.
// User is nil when the response carries none.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	req := LoginRequest{Email: strings.TrimSpace(email), Password: password}
	if err := c.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	var tr tokenResponse
	if err := c.post(ctx, c.endpoints.Login, "", req, &tr); err != nil {
		return nil, err
	}
	if tr.accessToken() == "" {
		return nil, fmt.Errorf("%s: %w: missing access token", c.endpoints.Login, ErrMalformedResponse)
	}

	resp := &LoginResponse{
		AccessToken:  tr.accessToken(),
		RefreshToken: tr.refreshToken(),
	}
	if len(tr.User) > 0 && string(tr.User) != "null" {
		var u User
		if err := json.Unmarshal(tr.User, &u); err != nil {
			return nil, fmt.Errorf("%s: %w: decoding user: %w", c.endpoints.Login, ErrMalformedResponse, err)
		}
		resp.User = &u
	}

	return resp, nil
}

// Refresh obtains a new access token. The returned token carries a rotated
// refresh token only if the backend issued one.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: empty refresh token", ErrInvalidRequest)
	}

	var tr tokenResponse
	if err := c.post(ctx, c.endpoints.Refresh, "", RefreshRequest{RefreshToken: refreshToken}, &tr); err != nil {
		return nil, err
	}
	if tr.accessToken() == "" {
		return nil, fmt.Errorf("%s: %w: missing access token", c.endpoints.Refresh, ErrMalformedResponse)
	}

	return &oauth2.Token{
		AccessToken:  tr.accessToken(),
		RefreshToken: tr.refreshToken(),
		TokenType:    tr.tokenType(),
	}, nil
}

// Logout notifies the backend that the credentials should be revoked.
// A no-op when no logout endpoint is configured.
func (c *Client) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if c.endpoints.Logout == "" {
		return nil
	}
	return c.post(ctx, c.endpoints.Logout, accessToken, LogoutRequest{RefreshToken: refreshToken}, nil)
}

// post sends body as JSON and decodes a 2xx response into out when non-nil.
func (c *Client) post(ctx context.Context, path, bearer string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(path), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("%s: reading response: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newError(path, resp.StatusCode, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: %w: %w", path, ErrMalformedResponse, err)
	}
	return nil
}
