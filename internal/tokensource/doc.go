// Package tokensource refreshes access tokens against a standard OAuth2 token
// endpoint using the refresh_token grant.
//
// It is an alternative to the backend's own refresh route for deployments whose
// identity provider issues the tokens:
//
//	r, err := tokensource.New(tokensource.Config{
//		TokenURL: "https://idp.example.com/oauth/token",
//		ClientID: "spa",
//	})
//	token, err := r.Refresh(ctx, refreshToken)
//
// Some token endpoints accept only JSON bodies instead of the form encoding
// OAuth2 specifies; WithJSONEncoding converts refresh requests for them.
//
// # Custom Base Transport
//
// Configure a custom base transport for token refresh requests (e.g., for proxies or custom timeouts):
//
//	r, err := tokensource.New(cfg, tokensource.WithTransport(customTransport))
package tokensource
