package authsession_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/florianilch/tokenshell/internal/authapi"
	"github.com/florianilch/tokenshell/internal/authsession"
	"github.com/florianilch/tokenshell/internal/tokenstore"
)

// fakeAPI is a scriptable auth backend.
type fakeAPI struct {
	mu           sync.Mutex
	loginErr     error
	refreshErr   error
	logoutErr    error
	refreshToken *oauth2.Token
	// refreshStarted receives a value as each refresh begins; refreshGate blocks
	// refreshes until closed.
	refreshStarted chan struct{}
	refreshGate    chan struct{}
	loginCalls     int
	refreshCalls   int
	logoutCalls    int
}

func (f *fakeAPI) Login(ctx context.Context, email, password string) (*authapi.LoginResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &authapi.LoginResponse{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		User:         &authapi.User{Email: email, Claims: map[string]any{"email": email, "role": "admin"}},
	}, nil
}

func (f *fakeAPI) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if f.refreshStarted != nil {
		f.refreshStarted <- struct{}{}
	}
	if f.refreshGate != nil {
		select {
		case <-f.refreshGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	if f.refreshToken != nil {
		return f.refreshToken, nil
	}
	return &oauth2.Token{AccessToken: "access-2"}, nil
}

func (f *fakeAPI) Logout(ctx context.Context, accessToken, refreshToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutCalls++
	return f.logoutErr
}

func newSession(t *testing.T, store tokenstore.Store, api authsession.API, opts ...authsession.Option) *authsession.Session {
	t.Helper()
	s, err := authsession.New(context.Background(), store, api, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func assertEmptyStore(t *testing.T, store tokenstore.Store) {
	t.Helper()
	creds, err := tokenstore.LoadCredentials(context.Background(), store)
	if err != nil {
		t.Fatal(err)
	}
	if creds != (tokenstore.Credentials{}) {
		t.Errorf("store = %+v, want empty", creds)
	}
}

func TestLoginSuccess(t *testing.T) {
	ctx := context.Background()
	store := tokenstore.NewMemoryStore()
	s := newSession(t, store, &fakeAPI{})

	if s.IsAuthenticated(ctx) {
		t.Fatal("fresh session reports authenticated")
	}

	user, err := s.Login(ctx, "a@b.com", "pw")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if user.Email != "a@b.com" {
		t.Errorf("user email = %q", user.Email)
	}
	if !s.IsAuthenticated(ctx) || s.State() != authsession.StateLoggedIn {
		t.Errorf("after login: authenticated=%v state=%v", s.IsAuthenticated(ctx), s.State())
	}

	creds, _ := tokenstore.LoadCredentials(ctx, store)
	if creds.AccessToken != "access-1" || creds.RefreshToken != "refresh-1" {
		t.Errorf("stored credentials = %+v", creds)
	}
	if got := s.User(); got == nil || got.Claims["role"] != "admin" {
		t.Errorf("User() = %+v", got)
	}
}

func TestLoginFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	store := tokenstore.NewMemoryStore()
	rejected := &authapi.Error{Endpoint: "/auth/login", StatusCode: http.StatusUnauthorized}
	api := &fakeAPI{loginErr: rejected}
	s := newSession(t, store, api)

	_, err := s.Login(ctx, "a@b.com", "wrong")
	if !errors.Is(err, rejected) {
		t.Fatalf("error = %v, want rejection", err)
	}
	if s.IsAuthenticated(ctx) {
		t.Error("authenticated after failed login")
	}
	if s.User() != nil {
		t.Error("user set after failed login")
	}
	assertEmptyStore(t, store)
	if api.loginCalls != 1 {
		t.Errorf("login calls = %d, want 1 (no retry)", api.loginCalls)
	}
}

func TestLogoutAlwaysClears(t *testing.T) {
	tests := []struct {
		name      string
		logoutErr error
	}{
		{name: "backend ok"},
		{name: "backend failure", logoutErr: errors.New("connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := tokenstore.NewMemoryStore()
			api := &fakeAPI{logoutErr: tt.logoutErr}
			s := newSession(t, store, api)

			if _, err := s.Login(ctx, "a@b.com", "pw"); err != nil {
				t.Fatal(err)
			}
			if err := s.Logout(ctx); err != nil {
				t.Fatalf("Logout returned %v", err)
			}

			if api.logoutCalls != 1 {
				t.Errorf("backend logout calls = %d, want 1", api.logoutCalls)
			}
			if s.IsAuthenticated(ctx) || s.State() != authsession.StateLoggedOut || s.User() != nil {
				t.Errorf("after logout: state=%v user=%+v", s.State(), s.User())
			}
			assertEmptyStore(t, store)
		})
	}
}

func TestLogoutWithCancelledContext(t *testing.T) {
	store := tokenstore.NewMemoryStore()
	api := &fakeAPI{}
	s := newSession(t, store, api)
	if _, err := s.Login(context.Background(), "a@b.com", "pw"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Logout(ctx); err != nil {
		t.Fatalf("Logout returned %v", err)
	}
	if api.logoutCalls != 1 {
		t.Errorf("backend logout calls = %d, want 1", api.logoutCalls)
	}
	assertEmptyStore(t, store)
}

func TestRefreshSuccess(t *testing.T) {
	ctx := context.Background()
	store := tokenstore.NewMemoryStore()
	api := &fakeAPI{refreshToken: &oauth2.Token{AccessToken: "access-2", RefreshToken: "refresh-2"}}
	s := newSession(t, store, api)
	if _, err := s.Login(ctx, "a@b.com", "pw"); err != nil {
		t.Fatal(err)
	}

	var states []authsession.State
	s.Subscribe(func(st authsession.State) { states = append(states, st) })

	tok, err := s.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if tok.AccessToken != "access-2" {
		t.Errorf("token = %q", tok.AccessToken)
	}

	creds, _ := tokenstore.LoadCredentials(ctx, store)
	if creds.AccessToken != "access-2" || creds.RefreshToken != "refresh-2" {
		t.Errorf("stored credentials = %+v", creds)
	}
	want := []authsession.State{authsession.StateRefreshing, authsession.StateLoggedIn}
	if len(states) != len(want) || states[0] != want[0] || states[1] != want[1] {
		t.Errorf("transitions = %v, want %v", states, want)
	}
	if s.User() == nil {
		t.Error("refresh must keep the user")
	}
}

func TestRefreshFailureCascadesToLogout(t *testing.T) {
	ctx := context.Background()
	store := tokenstore.NewMemoryStore()
	refreshErr := errors.New("refresh token expired")
	api := &fakeAPI{refreshErr: refreshErr}
	s := newSession(t, store, api)
	if _, err := s.Login(ctx, "a@b.com", "pw"); err != nil {
		t.Fatal(err)
	}

	_, err := s.Refresh(ctx)
	if !errors.Is(err, refreshErr) {
		t.Fatalf("error = %v, want refresh error", err)
	}
	if s.State() != authsession.StateLoggedOut || s.IsAuthenticated(ctx) {
		t.Errorf("state after failed refresh = %v", s.State())
	}
	if api.logoutCalls != 1 {
		t.Errorf("logout calls = %d, want 1", api.logoutCalls)
	}
	assertEmptyStore(t, store)
}

func TestRefreshCallerCancellationKeepsSession(t *testing.T) {
	store := tokenstore.NewMemoryStore()
	api := &fakeAPI{
		refreshStarted: make(chan struct{}, 2),
		refreshGate:    make(chan struct{}),
	}
	s := newSession(t, store, api)
	if _, err := s.Login(context.Background(), "a@b.com", "pw"); err != nil {
		t.Fatal(err)
	}

	cancelledCtx, cancel := context.WithCancel(context.Background())
	cancelledErr := make(chan error, 1)
	go func() {
		_, err := s.Refresh(cancelledCtx)
		cancelledErr <- err
	}()
	<-api.refreshStarted

	type result struct {
		token *oauth2.Token
		err   error
	}
	live := make(chan result, 1)
	go func() {
		tok, err := s.Refresh(context.Background())
		live <- result{tok, err}
	}()

	cancel()
	if err := <-cancelledErr; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller error = %v, want context.Canceled", err)
	}

	close(api.refreshGate)
	res := <-live
	if res.err != nil {
		t.Fatalf("live caller error = %v", res.err)
	}
	if res.token.AccessToken != "access-2" {
		t.Errorf("live caller token = %q", res.token.AccessToken)
	}

	ctx := context.Background()
	if !s.IsAuthenticated(ctx) || s.State() != authsession.StateLoggedIn {
		t.Errorf("after cancelled refresh: authenticated=%v state=%v", s.IsAuthenticated(ctx), s.State())
	}
	creds, _ := tokenstore.LoadCredentials(ctx, store)
	if creds.AccessToken != "access-2" || creds.RefreshToken != "refresh-1" {
		t.Errorf("stored credentials = %+v", creds)
	}
	if api.logoutCalls != 0 {
		t.Errorf("logout calls = %d, want 0", api.logoutCalls)
	}
}

func TestLoginWithoutUserFallsBackToEmail(t *testing.T) {
	s := newSession(t, tokenstore.NewMemoryStore(), loginWithoutUserAPI{&fakeAPI{}})

	user, err := s.Login(context.Background(), " a@b.com ", "pw")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if user == nil || user.Email != "a@b.com" {
		t.Errorf("user = %+v, want email a@b.com", user)
	}
}

// loginWithoutUserAPI answers logins with tokens only.
type loginWithoutUserAPI struct {
	*fakeAPI
}

func (a loginWithoutUserAPI) Login(ctx context.Context, email, password string) (*authapi.LoginResponse, error) {
	resp, err := a.fakeAPI.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	resp.User = nil
	return resp, nil
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	ctx := context.Background()
	store := tokenstore.NewMemoryStore()
	_ = store.Set(ctx, tokenstore.KeyAccessToken, "access-only")
	api := &fakeAPI{}
	s := newSession(t, store, api)

	if _, err := s.Refresh(ctx); !errors.Is(err, authsession.ErrNoRefreshToken) {
		t.Errorf("error = %v, want ErrNoRefreshToken", err)
	}
	if api.refreshCalls != 0 {
		t.Error("backend refresh called without refresh token")
	}
	assertEmptyStore(t, store)
}

func TestInitialStateFromStore(t *testing.T) {
	ctx := context.Background()

	empty := newSession(t, tokenstore.NewMemoryStore(), &fakeAPI{})
	if empty.State() != authsession.StateLoggedOut || empty.IsAuthenticated(ctx) {
		t.Error("empty store must start logged out")
	}

	store := tokenstore.NewMemoryStore()
	_ = store.Set(ctx, tokenstore.KeyAccessToken, "opaque-token")
	s := newSession(t, store, &fakeAPI{})
	if s.State() != authsession.StateLoggedIn || !s.IsAuthenticated(ctx) {
		t.Error("stored token must start logged in")
	}
	if s.User() != nil {
		t.Error("opaque token must not produce a user")
	}
}

func TestInitialUserFromJWTClaims(t *testing.T) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "a@b.com",
		"role": "admin",
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	store := tokenstore.NewMemoryStore()
	_ = store.Set(context.Background(), tokenstore.KeyAccessToken, signed)
	s := newSession(t, store, &fakeAPI{})

	user := s.User()
	if user == nil || user.Email != "a@b.com" || user.Claims["role"] != "admin" {
		t.Errorf("derived user = %+v", user)
	}
}

func TestExternalTokenRemovalIsObserved(t *testing.T) {
	ctx := context.Background()
	store := tokenstore.NewMemoryStore()
	s := newSession(t, store, &fakeAPI{})
	if _, err := s.Login(ctx, "a@b.com", "pw"); err != nil {
		t.Fatal(err)
	}

	_ = tokenstore.ClearCredentials(ctx, store)

	if s.IsAuthenticated(ctx) {
		t.Error("authenticated after tokens were removed from the store")
	}
	if s.State() != authsession.StateLoggedOut || s.User() != nil {
		t.Errorf("cached view not reconciled: state=%v user=%+v", s.State(), s.User())
	}
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, tokenstore.NewMemoryStore(), &fakeAPI{})
	if _, err := s.Login(ctx, "a@b.com", "pw"); err != nil {
		t.Fatal(err)
	}

	s.Invalidate(ctx, errors.New("refresh failed"))
	if s.State() != authsession.StateLoggedOut || s.User() != nil {
		t.Errorf("after Invalidate: state=%v user=%+v", s.State(), s.User())
	}
}

func TestLoadUser(t *testing.T) {
	ctx := context.Background()
	fetched := &authsession.UserInfo{Email: "me@b.com"}
	s := newSession(t, tokenstore.NewMemoryStore(), &fakeAPI{}, authsession.WithUserFetcher(
		func(ctx context.Context) (*authsession.UserInfo, error) { return fetched, nil }))

	user, err := s.LoadUser(ctx)
	if err != nil {
		t.Fatalf("LoadUser failed: %v", err)
	}
	if user.Email != "me@b.com" || s.User().Email != "me@b.com" {
		t.Errorf("user = %+v", user)
	}
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, tokenstore.NewMemoryStore(), &fakeAPI{})
	if _, err := s.Login(ctx, "a@b.com", "pw"); err != nil {
		t.Fatal(err)
	}

	view := s.Snapshot(ctx)
	if !view.Authenticated || view.State != authsession.StateLoggedIn || view.User == nil || view.User.Email != "a@b.com" {
		t.Errorf("snapshot = %+v", view)
	}
}
