package authsession

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/florianilch/tokenshell/internal/tokenstore"
)

// expiryDelta mirrors oauth2's early-expiry window so a token is refreshed
// shortly before the backend would reject it.
const expiryDelta = 10 * time.Second

// sessionTokenSource serves the stored access token and refreshes through the
// session once it is missing or expired.
type sessionTokenSource struct {
	ctx     context.Context
	session *Session
}

// Compile-time check to ensure sessionTokenSource implements oauth2.TokenSource
var _ oauth2.TokenSource = (*sessionTokenSource)(nil)

// TokenSource returns an oauth2.TokenSource backed by the token store.
// oauth2.TokenSource.Token has no context parameter, so ctx is used for all store
// and refresh calls made by the returned source.
func (s *Session) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &sessionTokenSource{ctx: ctx, session: s}
}

// Token implements oauth2.TokenSource.
func (ts *sessionTokenSource) Token() (*oauth2.Token, error) {
	creds, err := tokenstore.LoadCredentials(ts.ctx, ts.session.store)
	if err != nil {
		return nil, fmt.Errorf("loading stored credentials: %w", err)
	}

	if creds.AccessToken != "" {
		token := creds.Token()
		token.Expiry = TokenExpiry(creds.AccessToken)
		if token.Expiry.IsZero() || time.Until(token.Expiry) > expiryDelta {
			return token, nil
		}
	}

	token, err := ts.session.Refresh(ts.ctx)
	if err != nil {
		return nil, err
	}
	if token.Expiry.IsZero() {
		token.Expiry = TokenExpiry(token.AccessToken)
	}
	return token, nil
}

// TokenExpiry reads the exp claim of a JWT access token without verifying it.
// Opaque tokens yield the zero time, which oauth2 treats as never expiring.
func TokenExpiry(accessToken string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
