package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/angelmondragon/scholarmarket-backend/pkg/enums"
)

// AccessTokenPayload is what the chat gateway asserts about a caller.
type AccessTokenPayload struct {
	UserID   int64
	Username string
	Role     enums.Role
	JTI      string
	// TTL overrides the configured lifetime when positive.
	TTL time.Duration
}

// AccessTokenClaims is the typed JWT presented on every API call.
type AccessTokenClaims struct {
	UserID   int64      `json:"user_id"`
	Username string     `json:"username,omitempty"`
	Role     enums.Role `json:"role"`
	jwt.RegisteredClaims
}
