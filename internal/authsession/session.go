package authsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/florianilch/tokenshell/internal/authapi"
	"github.com/florianilch/tokenshell/internal/tokenstore"
)

// ErrNoRefreshToken is returned by Refresh when no refresh token is stored.
var ErrNoRefreshToken = errors.New("no refresh token available")

// UserInfo describes the logged-in user.
type UserInfo = authapi.User

// API is the subset of the auth endpoints a Session calls.
type API interface {
	Login(ctx context.Context, email, password string) (*authapi.LoginResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
}

// Compile-time check that the auth API client satisfies API.
var _ API = (*authapi.Client)(nil)

// UserFetcher loads the current user from the backend.
type UserFetcher func(ctx context.Context) (*UserInfo, error)

// Option configures a Session.
type Option func(*Session)

// WithUserFetcher enables LoadUser against a current-user endpoint.
func WithUserFetcher(f UserFetcher) Option {
	return func(s *Session) {
		s.fetchUser = f
	}
}

// View is a point-in-time snapshot of the session for rendering.
type View struct {
	Authenticated bool      `json:"authenticated"`
	State         State     `json:"state"`
	User          *UserInfo `json:"user,omitempty"`
}

// Session tracks authentication state backed by a token store.
type Session struct {
	store     tokenstore.Store
	api       API
	fetchUser UserFetcher

	mu          sync.Mutex
	state       State
	user        *UserInfo
	subscribers []func(State)

	refreshes singleflight.Group
}

// New creates a Session and derives its initial state from the token store.
func New(ctx context.Context, store tokenstore.Store, api API, opts ...Option) (*Session, error) {
	if store == nil {
		return nil, errors.New("missing token store")
	}
	if api == nil {
		return nil, errors.New("missing auth API")
	}

	s := &Session{
		store: store,
		api:   api,
		state: StateLoggedOut,
	}
	for _, opt := range opts {
		opt(s)
	}

	accessToken, ok, err := store.Get(ctx, tokenstore.KeyAccessToken)
	if err != nil {
		return nil, fmt.Errorf("reading stored access token: %w", err)
	}
	if ok {
		s.state = StateLoggedIn
		s.user = userFromAccessToken(accessToken)
	}

	return s, nil
}

// Subscribe registers fn to be called after every state change.
// Callbacks run synchronously on the goroutine that caused the change.
func (s *Session) Subscribe(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// State returns the cached state machine position.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// User returns a copy of the current user, or nil when unknown.
func (s *Session) User() *UserInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyUser(s.user)
}

// IsAuthenticated reports whether a non-empty access token is stored.
// The cached state is reconciled with the store as a side effect.
func (s *Session) IsAuthenticated(ctx context.Context) bool {
	accessToken, ok, err := s.store.Get(ctx, tokenstore.KeyAccessToken)
	if err != nil {
		slog.WarnContext(ctx, "reading access token failed, treating session as logged out", "error", err)
		return false
	}

	s.reconcile(ok, accessToken)
	return ok
}

// Snapshot returns the authentication flag, state and user in one call.
func (s *Session) Snapshot(ctx context.Context) View {
	authenticated := s.IsAuthenticated(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		Authenticated: authenticated,
		State:         s.state,
		User:          copyUser(s.user),
	}
}

// Login exchanges credentials for tokens. On failure the session and the store
// are left untouched and the error is returned; no retry is attempted.
func (s *Session) Login(ctx context.Context, email, password string) (*UserInfo, error) {
	resp, err := s.api.Login(ctx, email, password)
	if err != nil {
		slog.WarnContext(ctx, "login failed", "error", err)
		return nil, err
	}
	if resp.User == nil {
		resp.User = &UserInfo{Email: strings.TrimSpace(email)}
	}

	creds := tokenstore.Credentials{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}
	if err := tokenstore.SaveCredentials(ctx, s.store, creds); err != nil {
		return nil, fmt.Errorf("persisting credentials: %w", err)
	}

	s.transition(ctx, StateLoggedIn, resp.User, true)
	slog.InfoContext(ctx, "logged in", "email", resp.User.Email)

	return copyUser(resp.User), nil
}

// Logout notifies the backend on a best-effort basis, then always clears the stored
// credentials and the cached user. Only failures to clear the store are returned.
func (s *Session) Logout(ctx context.Context) (err error) {
	// Cleanup must complete even if ctx is cancelled
	cleanupCtx := context.WithoutCancel(ctx)
	defer func() {
		if clearErr := tokenstore.ClearCredentials(cleanupCtx, s.store); clearErr != nil {
			err = fmt.Errorf("clearing credentials: %w", clearErr)
		}
		s.transition(cleanupCtx, StateLoggedOut, nil, true)
	}()

	creds, loadErr := tokenstore.LoadCredentials(cleanupCtx, s.store)
	if loadErr != nil {
		slog.WarnContext(ctx, "reading credentials for backend logout failed", "error", loadErr)
		return nil
	}
	if creds.AccessToken == "" && creds.RefreshToken == "" {
		return nil
	}

	if notifyErr := s.api.Logout(ctx, creds.AccessToken, creds.RefreshToken); notifyErr != nil {
		slog.WarnContext(ctx, "backend logout failed, continuing client-side logout", "error", notifyErr)
	}
	return nil
}

// Refresh obtains a new access token with the stored refresh token. On failure the
// session is logged out and the refresh error is returned. Concurrent calls share
// one refresh. A caller whose ctx ends while waiting gets ctx.Err() and the shared
// refresh keeps running for the others.
func (s *Session) Refresh(ctx context.Context) (*oauth2.Token, error) {
	// The shared refresh outlives any single caller's cancellation
	flightCtx := context.WithoutCancel(ctx)
	ch := s.refreshes.DoChan("refresh", func() (any, error) {
		return s.refresh(flightCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*oauth2.Token), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) refresh(ctx context.Context) (*oauth2.Token, error) {
	refreshToken, ok, err := s.store.Get(ctx, tokenstore.KeyRefreshToken)
	if err == nil && !ok {
		err = ErrNoRefreshToken
	}
	if err != nil {
		s.failRefresh(ctx, err)
		return nil, err
	}

	s.transition(ctx, StateRefreshing, nil, false)

	token, err := s.api.Refresh(ctx, refreshToken)
	if err != nil {
		s.failRefresh(ctx, err)
		return nil, err
	}

	if err := s.store.Set(ctx, tokenstore.KeyAccessToken, token.AccessToken); err != nil {
		persistErr := fmt.Errorf("persisting refreshed access token: %w", err)
		s.failRefresh(ctx, persistErr)
		return nil, persistErr
	}
	if token.RefreshToken != "" && token.RefreshToken != refreshToken {
		if err := s.store.Set(ctx, tokenstore.KeyRefreshToken, token.RefreshToken); err != nil {
			slog.ErrorContext(ctx, "failed to persist rotated refresh token", "error", err)
		}
	}

	s.transition(ctx, StateLoggedIn, nil, false)
	return token, nil
}

// failRefresh cascades a refresh failure into a full logout.
func (s *Session) failRefresh(ctx context.Context, cause error) {
	slog.WarnContext(ctx, "session refresh failed, logging out", "error", cause)
	if err := s.Logout(ctx); err != nil {
		slog.ErrorContext(ctx, "logout after failed refresh incomplete", "error", err)
	}
}

// Invalidate moves the session to LoggedOut after credentials were cleared elsewhere,
// e.g. by the HTTP client after a failed refresh. It matches the signature of
// authclient.WithRefreshFailureHook.
func (s *Session) Invalidate(ctx context.Context, cause error) {
	slog.InfoContext(ctx, "session invalidated", "cause", cause)
	s.transition(ctx, StateLoggedOut, nil, true)
}

// LoadUser fetches the current user from the backend when a fetcher is configured,
// and otherwise returns the cached or token-derived user.
func (s *Session) LoadUser(ctx context.Context) (*UserInfo, error) {
	if s.fetchUser == nil {
		return s.User(), nil
	}

	user, err := s.fetchUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching current user: %w", err)
	}

	s.mu.Lock()
	s.user = copyUser(user)
	s.mu.Unlock()

	return copyUser(user), nil
}

// reconcile aligns the cached state with what the store reports.
func (s *Session) reconcile(authenticated bool, accessToken string) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	ctx := context.Background()
	switch {
	case !authenticated && state != StateLoggedOut:
		s.transition(ctx, StateLoggedOut, nil, true)
	case authenticated && state == StateLoggedOut:
		s.transition(ctx, StateLoggedIn, userFromAccessToken(accessToken), true)
	}
}

// transition moves to the target state and notifies subscribers.
// When setUser is true the cached user is replaced with user.
func (s *Session) transition(ctx context.Context, to State, user *UserInfo, setUser bool) {
	s.mu.Lock()
	from := s.state
	if setUser {
		s.user = copyUser(user)
	}
	if from == to {
		s.mu.Unlock()
		return
	}
	if !canTransition(from, to) {
		s.mu.Unlock()
		slog.WarnContext(ctx, "ignoring invalid session transition", "from", from, "to", to)
		return
	}
	s.state = to
	subscribers := append([]func(State){}, s.subscribers...)
	s.mu.Unlock()

	slog.DebugContext(ctx, "session state changed", "from", from, "to", to)
	for _, fn := range subscribers {
		fn(to)
	}
}

func copyUser(u *UserInfo) *UserInfo {
	if u == nil {
		return nil
	}
	return &UserInfo{Email: u.Email, Claims: maps.Clone(u.Claims)}
}
