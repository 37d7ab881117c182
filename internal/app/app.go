package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/florianilch/tokenshell/internal/authapi"
	"github.com/florianilch/tokenshell/internal/authclient"
	"github.com/florianilch/tokenshell/internal/authsession"
	"github.com/florianilch/tokenshell/internal/gateway"
	"github.com/florianilch/tokenshell/internal/tokenstore"
)

// App wires the token store, auth session, intercepting client, and gateway,
// and orchestrates the lifecycle of the gateway server.
type App struct {
	cfg *Config

	store      tokenstore.Store
	closeStore func() error
	closeOnce  sync.Once
	closeErr   error

	session   *authsession.Session
	transport *authclient.Transport
	client    *authclient.Client
	authUsers *authclient.Client
	gateway   *gateway.Gateway
}

// New creates a new App instance. No network I/O is performed; the token store
// is read once to derive the initial session state.
func New(ctx context.Context, cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, closeStore, err := cfg.Storage.NewTokenStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}

	a, err := newApp(ctx, cfg, store)
	if err != nil {
		_ = closeStore()
		return nil, err
	}
	a.closeStore = closeStore
	return a, nil
}

func newApp(ctx context.Context, cfg *Config, store tokenstore.Store) (*App, error) {
	api, err := authapi.New(cfg.Auth.BaseURL,
		authapi.WithEndpoints(cfg.Auth.Endpoints()),
		authapi.WithHTTPClient(&http.Client{Timeout: cfg.Auth.Timeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth API client: %w", err)
	}

	a := &App{cfg: cfg, store: store, closeStore: func() error { return nil }}

	var (
		sessionAPI authsession.API      = api
		refresher  authclient.Refresher = api
	)
	if cfg.Auth.RefreshMode == RefreshModeOAuth2 {
		oauth2Refresher, err := cfg.Auth.OAuth2.NewRefresher(cfg.Auth.Timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to create oauth2 refresher: %w", err)
		}
		sessionAPI = &oauth2RefreshAPI{Client: api, refresher: oauth2Refresher}
		refresher = oauth2Refresher
	}

	// The session needs the intercepting client for the current-user call, and the
	// client needs the session for its refresh failure hook.
	var sessionOpts []authsession.Option
	if cfg.Auth.CurrentUserPath != "" {
		sessionOpts = append(sessionOpts, authsession.WithUserFetcher(a.fetchCurrentUser))
	}

	a.session, err = authsession.New(ctx, store, sessionAPI, sessionOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	a.session.Subscribe(func(state authsession.State) {
		if state == authsession.StateLoggedOut {
			slog.Info("session ended, login required")
		}
	})

	transportOpts := []authclient.Option{authclient.WithRefreshFailureHook(a.session.Invalidate)}
	if cfg.Auth.DisableRefreshCoalescing {
		transportOpts = append(transportOpts, authclient.WithoutRefreshCoalescing())
	}
	a.transport, err = authclient.NewTransport(store, refresher, transportOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	a.client, err = authclient.NewClient(cfg.Upstream.BaseURL, a.transport)
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}

	a.authUsers, err = authclient.NewClient(cfg.Auth.BaseURL, a.transport)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth client: %w", err)
	}

	a.gateway, err = gateway.New(a.session, a.transport, cfg.Upstream.BaseURL,
		gateway.WithStaticDir(cfg.Gateway.StaticDir),
		gateway.WithLoginRateLimit(cfg.Gateway.LoginRateLimit),
		gateway.WithDevelopment(cfg.Gateway.Development),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	return a, nil
}

// oauth2RefreshAPI uses the backend for login and logout and an OAuth2 token
// endpoint for refresh.
type oauth2RefreshAPI struct {
	*authapi.Client
	refresher authclient.Refresher
}

func (o *oauth2RefreshAPI) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return o.refresher.Refresh(ctx, refreshToken)
}

// fetchCurrentUser loads the user through the intercepting client so an expired
// access token is refreshed transparently.
func (a *App) fetchCurrentUser(ctx context.Context) (*authsession.UserInfo, error) {
	var user authapi.User
	if err := a.authUsers.GetJSON(ctx, a.cfg.Auth.CurrentUserPath, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Session returns the auth session.
func (a *App) Session() *authsession.Session {
	return a.session
}

// Client returns the intercepting API client for the upstream base URL.
func (a *App) Client() *authclient.Client {
	return a.client
}

// Store returns the configured token store.
func (a *App) Store() tokenstore.Store {
	return a.store
}

// Close releases token store connections. Safe to call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.closeErr = a.closeStore()
	})
	return a.closeErr
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Address()
	var shutdownFuncs []func(context.Context) error

	shutdownFuncs = append(shutdownFuncs, func(context.Context) error { return a.Close() })

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting gateway", "address", address, "upstream", a.cfg.Upstream.BaseURL)
	gatewayErrCh, err := a.gateway.Start(gCtx, address)
	if err != nil {
		_ = a.Close()
		return fmt.Errorf("gateway startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.gateway.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-gatewayErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "gateway runtime error", "error", err)
				return fmt.Errorf("gateway: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready", "address", address,
		"authenticated", a.session.IsAuthenticated(gCtx))

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}
