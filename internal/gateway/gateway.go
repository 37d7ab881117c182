package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/florianilch/tokenshell/internal/authclient"
	"github.com/florianilch/tokenshell/internal/authsession"
	"github.com/florianilch/tokenshell/internal/guard"
)

// LoginPath is where unauthenticated navigations are sent.
const LoginPath = "/login"

// Session is the subset of *authsession.Session the gateway uses.
type Session interface {
	guard.Authenticator
	Login(ctx context.Context, email, password string) (*authsession.UserInfo, error)
	Logout(ctx context.Context) error
	Snapshot(ctx context.Context) authsession.View
}

// Compile-time check that the session implementation satisfies Session.
var _ Session = (*authsession.Session)(nil)

// Option configures a Gateway.
type Option func(*config)

type config struct {
	staticDir      string
	loginRateLimit int
	development    bool
	logger         *slog.Logger
}

// WithStaticDir serves SPA assets from dir behind the guard.
func WithStaticDir(dir string) Option {
	return func(c *config) {
		c.staticDir = dir
	}
}

// WithLoginRateLimit limits login attempts per client IP per minute. Zero disables the limit.
func WithLoginRateLimit(perMinute int) Option {
	return func(c *config) {
		c.loginRateLimit = perMinute
	}
}

// WithDevelopment relaxes security header checks for local development.
func WithDevelopment(development bool) Option {
	return func(c *config) {
		c.development = development
	}
}

// WithLogger sets the request logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// Gateway represents the local SPA gateway server.
type Gateway struct {
	router  chi.Router
	session Session
	server  *http.Server
}

// Compile-time check that Gateway implements http.Handler
var _ http.Handler = (*Gateway)(nil)

// New creates a Gateway. API calls under /api are forwarded to upstreamURL through transport,
// which is expected to be the token-aware authclient.Transport.
func New(session Session, transport http.RoundTripper, upstreamURL string, opts ...Option) (*Gateway, error) {
	if session == nil {
		return nil, errors.New("missing session")
	}
	if transport == nil {
		return nil, errors.New("missing transport")
	}

	upstream, err := url.Parse(upstreamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q: scheme and host required", upstreamURL)
	}

	cfg := &config{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	g := &Gateway{session: session}

	apiProxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()
		},
		// FlushInterval: -1 flushes only when the upstream flushes, so streamed
		// API responses reach the SPA without buffering delays.
		FlushInterval: -1,
		Transport:     &HeaderFilterTransport{Base: transport},
		ErrorHandler:  proxyErrorHandler,
	}

	r := chi.NewRouter()
	r.Use(Logging(cfg.logger), Recovery, SecureHeaders(cfg.development))

	r.Get(LoginPath, g.showLogin)
	r.With(loginLimiter(cfg.loginRateLimit)).Post(LoginPath, g.handleLogin)
	r.Post("/logout", g.handleLogout)
	r.Get("/session", g.handleSession)

	r.Group(func(r chi.Router) {
		r.Use(guard.RequireAPI(session))
		r.Handle("/api", apiProxy)
		r.Handle("/api/*", apiProxy)
	})

	r.Group(func(r chi.Router) {
		r.Use(guard.Require(session, LoginPath))
		if cfg.staticDir != "" {
			r.Handle("/*", spaHandler(cfg.staticDir))
		} else {
			r.Get("/", g.handleHome)
		}
	})

	g.router = r
	return g, nil
}

// ServeHTTP implements http.Handler interface
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.router.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (g *Gateway) Start(ctx context.Context, address string) (<-chan error, error) {
	// Startup phase: Create listener synchronously to catch port-in-use errors immediately
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	g.server = &http.Server{
		Handler:      g,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := g.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	if err := g.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = g.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}

// proxyErrorHandler maps transport failures to responses. A failed token refresh
// means the session has ended, which the SPA should treat like any other 401.
func proxyErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	var refreshErr *authclient.RefreshError
	if errors.As(err, &refreshErr) {
		slog.InfoContext(ctx, "upstream request failed after token refresh failure", "error", err)
		writeJSONError(ctx, w, "session expired", http.StatusUnauthorized)
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}

	slog.ErrorContext(ctx, "upstream request failed", "error", err)
	writeJSONError(ctx, w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
}

func loginLimiter(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.LimitByIP(perMinute, time.Minute)
}
