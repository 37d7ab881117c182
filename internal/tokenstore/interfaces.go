package tokenstore

import (
	"context"
	"errors"
)

// Well-known keys holding the credential pair.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
)

// ErrReadOnly is returned by backends that cannot be written to.
var ErrReadOnly = errors.New("token store is read-only")

// Store reads and writes string values to persistent storage.
type Store interface {
	// Get returns the value stored under key. ok is false when the key is
	// absent or holds an empty string.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set persists value under key, overwriting any existing value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}
