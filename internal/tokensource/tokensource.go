package tokensource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

// defaultTimeout bounds a refresh call even when the caller's context has no deadline.
const defaultTimeout = 30 * time.Second

// Config describes the OAuth2 client and its token endpoint.
type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string // Empty for public clients
	Scopes       []string
}

// Option configures a Refresher.
type Option func(*refresherConfig)

// refresherConfig holds configuration for New.
type refresherConfig struct {
	baseTransport http.RoundTripper
	jsonEncoding  bool
	timeout       time.Duration
}

// WithTransport sets a custom base transport for token refresh requests.
// If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *refresherConfig) {
		c.baseTransport = transport
	}
}

// WithJSONEncoding sends refresh requests as JSON instead of form-encoded.
func WithJSONEncoding() Option {
	return func(c *refresherConfig) {
		c.jsonEncoding = true
	}
}

// WithTimeout overrides the per-refresh HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *refresherConfig) {
		c.timeout = d
	}
}

// Refresher exchanges refresh tokens at an OAuth2 token endpoint.
type Refresher struct {
	config     *oauth2.Config
	httpClient *http.Client
}

// New creates a Refresher for the token endpoint in cfg.
func New(cfg Config, opts ...Option) (*Refresher, error) {
	if cfg.TokenURL == "" {
		return nil, errors.New("missing token URL")
	}
	if _, err := url.ParseRequestURI(cfg.TokenURL); err != nil {
		return nil, fmt.Errorf("invalid token URL: %w", err)
	}
	if cfg.ClientID == "" {
		return nil, errors.New("missing client ID")
	}

	rc := &refresherConfig{
		baseTransport: http.DefaultTransport,
		timeout:       defaultTimeout,
	}
	for _, opt := range opts {
		opt(rc)
	}

	authStyle := oauth2.AuthStyleAutoDetect
	transport := rc.baseTransport
	if rc.jsonEncoding {
		// Credentials must travel in the body to survive the JSON conversion
		authStyle = oauth2.AuthStyleInParams
		transport = &jsonRefreshTransport{base: rc.baseTransport}
	}

	return &Refresher{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: authStyle,
			},
		},
		httpClient: &http.Client{
			Timeout:   rc.timeout,
			Transport: transport,
		},
	}, nil
}

// Refresh obtains a new access token. The returned token carries the refresh
// token the endpoint issued, or the given one when it did not rotate it.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, errors.New("empty refresh token")
	}

	// oauth2 picks up a custom HTTP client from the context (oauth2.HTTPClient key).
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)

	token, err := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("oauth2 refresh: %w", err)
	}
	return token, nil
}

// jsonRefreshTransport converts oauth2's form-encoded token refresh requests
// to JSON for token endpoints that require it.
// The oauth2 package guarantees this transport only receives token endpoint requests.
type jsonRefreshTransport struct {
	base http.RoundTripper
}

// Compile-time check that jsonRefreshTransport implements http.RoundTripper.
var _ http.RoundTripper = (*jsonRefreshTransport)(nil)

// RoundTrip re-encodes the form body as a JSON object.
func (t *jsonRefreshTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// The original body is consumed here and replaced on the clone.
	defer func() { _ = req.Body.Close() }()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}

	formData, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("parsing form data: %w", err)
	}

	jsonData := make(map[string]string, len(formData))
	for key, values := range formData {
		jsonData[key] = values[0] // OAuth2 parameters are single-valued
	}

	jsonBody, err := json.Marshal(jsonData)
	if err != nil {
		return nil, fmt.Errorf("marshaling JSON request: %w", err)
	}

	newReq := req.Clone(req.Context())
	newReq.Body = io.NopCloser(bytes.NewReader(jsonBody))
	newReq.ContentLength = int64(len(jsonBody))
	newReq.Header.Set("Content-Type", "application/json")

	return t.base.RoundTrip(newReq)
}
