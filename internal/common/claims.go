package common

import "github.com/golang-jwt/jwt/v5"

// Claims is the JWT payload issued by the server. Subject carries the user id.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	// Refresh is set on refresh tokens so they cannot be used as access tokens.
	Refresh bool `json:"refresh,omitempty"`
}
