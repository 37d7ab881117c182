// Package authapi is a client for the backend authentication endpoints.
//
// Requests issued here never pass through the intercepting pipeline in package
// authclient: login is unauthenticated by definition, and refresh must not recurse
// into the refresh-and-retry logic that calls it.
//
//	api, err := authapi.New("https://app.example.com")
//	resp, err := api.Login(ctx, "a@b.com", "pw")
//	tok, err := api.Refresh(ctx, resp.RefreshToken)
//
// Token responses are accepted in both camelCase (accessToken) and snake_case
// (access_token) form.
package authapi
