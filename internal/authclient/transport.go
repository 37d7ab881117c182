package authclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/florianilch/tokenshell/internal/tokenstore"
)

// RequestIDHeader is set on outgoing requests that do not carry one.
const RequestIDHeader = "X-Request-Id"

// Refresher exchanges a refresh token for a new access token.
// Implementations must not route through Transport.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// RefreshFunc adapts a function to the Refresher interface.
type RefreshFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

func (f RefreshFunc) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return f(ctx, refreshToken)
}

// Option configures a Transport.
type Option func(*Transport)

// WithBase sets the underlying transport. Defaults to http.DefaultTransport.
func WithBase(base http.RoundTripper) Option {
	return func(t *Transport) {
		t.base = base
	}
}

// WithRefreshFailureHook registers fn to be called once per failed refresh,
// after the stored credentials have been cleared.
func WithRefreshFailureHook(fn func(ctx context.Context, err error)) Option {
	return func(t *Transport) {
		t.onRefreshFailure = fn
	}
}

// WithoutRefreshCoalescing makes every 401 trigger its own refresh call.
func WithoutRefreshCoalescing() Option {
	return func(t *Transport) {
		t.coalesce = false
	}
}

// WithPropagator sets the propagator used to inject trace context.
// Defaults to the global otel propagator.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(t *Transport) {
		t.propagator = p
	}
}

// Transport injects bearer tokens and recovers from expired access tokens.
type Transport struct {
	base             http.RoundTripper
	store            tokenstore.Store
	refresher        Refresher
	onRefreshFailure func(context.Context, error)
	coalesce         bool
	propagator       propagation.TextMapPropagator

	flights singleflight.Group
}

// Compile-time check that Transport implements http.RoundTripper.
var _ http.RoundTripper = (*Transport)(nil)

// NewTransport creates a Transport reading credentials from store.
func NewTransport(store tokenstore.Store, refresher Refresher, opts ...Option) (*Transport, error) {
	if store == nil {
		return nil, errors.New("missing token store")
	}
	if refresher == nil {
		return nil, errors.New("missing refresher")
	}

	t := &Transport{
		base:      http.DefaultTransport,
		store:     store,
		refresher: refresher,
		coalesce:  true,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.propagator == nil {
		t.propagator = otel.GetTextMapPropagator()
	}

	return t, nil
}

type retriedKey struct{}

func isRetried(ctx context.Context) bool {
	retried, _ := ctx.Value(retriedKey{}).(bool)
	return retried
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	resp, sentToken, err := t.send(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized || isRetried(ctx) {
		return resp, nil
	}

	refreshToken, ok, err := t.store.Get(ctx, tokenstore.KeyRefreshToken)
	if err != nil {
		slog.WarnContext(ctx, "reading refresh token failed, returning 401 unchanged", "error", err)
		return resp, nil
	}
	if !ok {
		return resp, nil
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		slog.DebugContext(ctx, "request body cannot be replayed, returning 401 unchanged",
			"method", req.Method, "path", req.URL.Path)
		return resp, nil
	}

	retryReq, err := newRetryRequest(req)
	if err != nil {
		closeResponse(resp)
		return nil, err
	}
	closeResponse(resp)

	token, err := t.refresh(ctx, refreshToken, sentToken)
	if err != nil {
		return nil, err
	}

	token.SetAuthHeader(retryReq)

	slog.DebugContext(ctx, "retrying request with refreshed access token",
		"method", req.Method, "path", req.URL.Path)

	return t.RoundTrip(retryReq)
}

// send applies the request interceptor and forwards to the base transport.
// Returns the access token that was attached, if any.
func (t *Transport) send(req *http.Request) (*http.Response, string, error) {
	ctx := req.Context()
	out := req.Clone(ctx)

	var token string
	if isRetried(ctx) {
		// Header was patched with the refreshed token
		token = bearerToken(out.Header.Get("Authorization"))
	} else {
		accessToken, ok, err := t.store.Get(ctx, tokenstore.KeyAccessToken)
		if err != nil {
			return nil, "", fmt.Errorf("reading access token: %w", err)
		}
		if ok {
			token = accessToken
			out.Header.Set("Authorization", "Bearer "+accessToken)
		}
	}

	if out.Header.Get(RequestIDHeader) == "" {
		out.Header.Set(RequestIDHeader, uuid.NewString())
	}
	t.propagator.Inject(ctx, propagation.HeaderCarrier(out.Header))

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		return nil, "", err
	}
	return resp, token, nil
}

// refresh obtains a new access token, persisting it before returning.
// A failed refresh is returned as *RefreshError after the stored credentials
// were cleared. When ctx ends first, ctx.Err() is returned unwrapped and the
// refresh completes in the background, so a caller's timeout never ends the session.
func (t *Transport) refresh(ctx context.Context, refreshToken, staleAccessToken string) (*oauth2.Token, error) {
	if t.coalesce {
		// Another request may already have replaced the token this one was sent with
		current, ok, err := t.store.Get(ctx, tokenstore.KeyAccessToken)
		if err == nil && ok && staleAccessToken != "" && current != staleAccessToken {
			slog.DebugContext(ctx, "access token already refreshed by a concurrent request")
			return &oauth2.Token{AccessToken: current, TokenType: "Bearer"}, nil
		}
	}

	// The refresh outlives any single caller's cancellation
	flightCtx := context.WithoutCancel(ctx)
	var ch <-chan singleflight.Result
	if t.coalesce {
		ch = t.flights.DoChan(refreshToken, func() (any, error) {
			return t.doRefresh(flightCtx, refreshToken)
		})
	} else {
		single := make(chan singleflight.Result, 1)
		go func() {
			token, err := t.doRefresh(flightCtx, refreshToken)
			single <- singleflight.Result{Val: token, Err: err}
		}()
		ch = single
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, &RefreshError{Err: res.Err}
		}
		return res.Val.(*oauth2.Token), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Transport) doRefresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	slog.DebugContext(ctx, "refreshing access token")

	token, err := t.refresher.Refresh(ctx, refreshToken)
	if err == nil && (token == nil || token.AccessToken == "") {
		err = errors.New("refresh returned no access token")
	}
	if err != nil {
		slog.WarnContext(ctx, "access token refresh failed, clearing credentials", "error", err)
		// Cleanup must complete even when the caller has gone away
		if clearErr := tokenstore.ClearCredentials(context.WithoutCancel(ctx), t.store); clearErr != nil {
			slog.ErrorContext(ctx, "failed to clear credentials", "error", clearErr)
		}
		if t.onRefreshFailure != nil {
			t.onRefreshFailure(ctx, err)
		}
		return nil, err
	}

	if err := t.store.Set(ctx, tokenstore.KeyAccessToken, token.AccessToken); err != nil {
		// The retry still carries the new token; later requests will refresh again
		slog.ErrorContext(ctx, "failed to persist refreshed access token", "error", err)
	}
	if token.RefreshToken != "" && token.RefreshToken != refreshToken {
		if err := t.store.Set(ctx, tokenstore.KeyRefreshToken, token.RefreshToken); err != nil {
			slog.ErrorContext(ctx, "failed to persist rotated refresh token", "error", err)
		}
	}

	slog.InfoContext(ctx, "access token refreshed")
	return token, nil
}

// newRetryRequest clones req with the retried marker set and a fresh body.
func newRetryRequest(req *http.Request) (*http.Request, error) {
	ctx := context.WithValue(req.Context(), retriedKey{}, true)
	retry := req.Clone(ctx)

	if req.Body != nil && req.Body != http.NoBody {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("replaying request body: %w", err)
		}
		retry.Body = body
	}

	return retry, nil
}

// closeResponse drains a bounded amount of the body so the connection can be reused.
func closeResponse(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}
