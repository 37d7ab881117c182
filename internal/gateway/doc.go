// Package gateway serves a single-page application behind the route guard.
//
// Routes:
//
//	GET  /login     login form (redirects home when already authenticated)
//	POST /login     form or JSON login, rate limited per client IP
//	POST /logout    logout, always completes client-side
//	GET  /session   JSON snapshot of the session
//	     /api/*     reverse proxy to the upstream API through the token-aware transport
//	     /*         static SPA assets, or a JSON landing view when none are configured
//
// /api/* and /* are protected. Browser navigations to protected views are redirected
// to /login; API calls receive 401.
package gateway
