// Package tokenstore provides key-value persistence for authentication credentials.
//
// Credentials are stored as two opaque strings under the keys [KeyAccessToken] and
// [KeyRefreshToken]. The store is the single source of truth for authentication state:
// a session is authenticated exactly when a non-empty access token is present.
//
// Supported backends with different deployment tradeoffs:
//   - File: JSON file on the local filesystem with atomic writes and 0600 permissions
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, etc.)
//   - Redis: shared storage for gateways running behind a load balancer
//   - Env: read-only environment variables (requires external secret management)
//   - Memory: process-local storage, lost on restart
//
// Tokens are persisted in plaintext. Expiry is not tracked; it is discovered only when
// the server rejects a request.
package tokenstore
