package common

import "errors"

// Token lifecycle errors. Their messages travel as gRPC status messages, so
// the client recognises an expired access token by comparing text.
var (
	ErrInvalidToken        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
)
