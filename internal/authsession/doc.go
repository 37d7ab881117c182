// Package authsession holds the process-wide authentication state exposed to views.
//
// A [Session] is an explicitly constructed object over an injected token store and
// auth API. The token store is the source of truth: [Session.IsAuthenticated] looks
// up the access token directly, and the cached state is reconciled on every lookup.
//
// The session is a small state machine:
//
//	LoggedOut  --Login ok-->        LoggedIn
//	LoggedIn   --Refresh-->         Refreshing
//	LoggedOut  --Refresh-->         Refreshing
//	Refreshing --refresh ok-->      LoggedIn
//	Refreshing --refresh failed-->  LoggedOut (via Logout)
//	any        --Logout/Invalidate--> LoggedOut
//
// The user is never persisted. After a restart it is re-derived from the stored
// access token's JWT claims when the token is a JWT, or fetched with
// [Session.LoadUser] when a user fetcher is configured.
package authsession
