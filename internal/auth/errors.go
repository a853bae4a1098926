package auth

import "errors"

var (
	// ErrInvalidToken indicates the token failed validation.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrUnauthorized indicates a missing or insufficient principal.
	ErrUnauthorized = errors.New("auth: unauthorized")

	errMissingSecret = errors.New("auth: token secret is not configured")
)
