package authapi

import (
	"encoding/json"
)

// LoginRequest is the body of the login endpoint.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshRequest is the body of the refresh endpoint.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// LogoutRequest is the body of the logout endpoint.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken,omitempty"`
}

// LoginResponse carries the credential pair and the optional user payload.
type LoginResponse struct {
	AccessToken  string
	RefreshToken string
	User         *User
}

// User holds the email address plus any other claims the backend returned.
type User struct {
	Email  string
	Claims map[string]any
}

// UnmarshalJSON keeps every field as an opaque claim and lifts "email".
func (u *User) UnmarshalJSON(data []byte) error {
	var claims map[string]any
	if err := json.Unmarshal(data, &claims); err != nil {
		return err
	}
	u.Claims = claims
	if email, ok := claims["email"].(string); ok {
		u.Email = email
	}
	return nil
}

// MarshalJSON emits the claims with "email" set.
func (u User) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(u.Claims)+1)
	for k, v := range u.Claims {
		out[k] = v
	}
	if u.Email != "" {
		out["email"] = u.Email
	}
	return json.Marshal(out)
}

// tokenResponse accepts both naming conventions seen on auth backends.
type tokenResponse struct {
	AccessToken       string          `json:"accessToken"`
	AccessTokenSnake  string          `json:"access_token"`
	RefreshToken      string          `json:"refreshToken"`
	RefreshTokenSnake string          `json:"refresh_token"`
	TokenType         string          `json:"tokenType"`
	TokenTypeSnake    string          `json:"token_type"`
	User              json.RawMessage `json:"user"`
}

func (t tokenResponse) accessToken() string {
	return firstNonEmpty(t.AccessToken, t.AccessTokenSnake)
}

func (t tokenResponse) refreshToken() string {
	return firstNonEmpty(t.RefreshToken, t.RefreshTokenSnake)
}

func (t tokenResponse) tokenType() string {
	return firstNonEmpty(t.TokenType, t.TokenTypeSnake, "Bearer")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
