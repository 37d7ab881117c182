package tokenstore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// EnvStore provides read-only access to tokens stored in environment variables.
// Each key maps to <prefix><UPPER_SNAKE_KEY>, e.g. accessToken → TOKENSHELL_ACCESS_TOKEN.
// Suitable for pre-provisioned tokens; login and refresh require writable storage.
type EnvStore struct {
	prefix string
}

// Compile-time check to ensure EnvStore implements Store
var _ Store = (*EnvStore)(nil)

// NewEnvStore creates an EnvStore reading variables with the given prefix.
func NewEnvStore(prefix string) (*EnvStore, error) {
	if prefix == "" {
		return nil, fmt.Errorf("environment prefix cannot be empty")
	}

	return &EnvStore{
		prefix: prefix,
	}, nil
}

// Get returns the value of the environment variable backing key.
func (e *EnvStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	value := os.Getenv(e.VarName(key))
	return value, value != "", nil
}

// Set is not supported for environment variables (they are read-only).
func (e *EnvStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return fmt.Errorf("setting %s: %w", e.VarName(key), ErrReadOnly)
}

// Remove is not supported for environment variables (they are read-only).
func (e *EnvStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return fmt.Errorf("removing %s: %w", e.VarName(key), ErrReadOnly)
}

// VarName returns the environment variable name for key.
func (e *EnvStore) VarName(key string) string {
	var sb strings.Builder
	sb.WriteString(e.prefix)
	for i, r := range key {
		if unicode.IsUpper(r) && i > 0 {
			sb.WriteByte('_')
		}
		sb.WriteRune(unicode.ToUpper(r))
	}
	return sb.String()
}
