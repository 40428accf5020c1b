package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims carries the identity embedded in access tokens issued by the
// identity service.
type JWTClaims struct {
	UserID string   `json:"user_id"`
	Email  string   `json:"email"`
	Role   UserRole `json:"role"`
	jwt.RegisteredClaims
}
