package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Role names for the internal admin API. Keep these stable; they are part of
// the token contract with the ops tooling that mints them.
const (
	RoleAdmin    = "admin"
	RoleReadonly = "readonly"
)

// Claims are the only supported JWT claims shape for the admin API.
// Tokens are minted out-of-band by ops tooling; there is no login flow in the
// bot process itself.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}
