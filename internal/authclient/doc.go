// Package authclient provides the shared, token-aware HTTP request pipeline.
//
// [Transport] is an http.RoundTripper with two interceptors:
//
//   - Request: reads the access token from the token store on every request and
//     sets "Authorization: Bearer <token>". Requests proceed unauthenticated when
//     no token is stored.
//   - Response: on 401, if the request has not been retried yet and a refresh token
//     is stored, obtains a new access token through the [Refresher], persists it and
//     re-issues the request once. A failed refresh clears both tokens and returns a
//     [*RefreshError] to the caller.
//
// Refresh calls are issued by the Refresher directly, never through this pipeline.
//
// Concurrent 401s share one in-flight refresh per refresh token. This coordination
// can be turned off with [WithoutRefreshCoalescing], in which case every 401
// triggers its own refresh call.
//
// [Client] wraps the Transport with a base URL and JSON helpers.
package authclient
