package auth

import "errors"

// Sentinel errors for bearer tokens.
var (
	ErrMissingCredentials = errors.New("auth: missing credentials")
	ErrTokenMalformed     = errors.New("auth: token malformed")
)
