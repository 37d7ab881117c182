package authsession

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// userFromAccessToken derives a user from JWT claims without verifying the signature.
// The backend remains responsible for validating the token; the result is for display only.
// Returns nil for opaque (non-JWT) tokens.
func userFromAccessToken(token string) *UserInfo {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}

	email, _ := claims["email"].(string)
	if email == "" {
		// Some backends put the email in the subject
		if sub, _ := claims["sub"].(string); strings.Contains(sub, "@") {
			email = sub
		}
	}

	return &UserInfo{
		Email:  email,
		Claims: map[string]any(claims),
	}
}
