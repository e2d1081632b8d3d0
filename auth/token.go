package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenPrefix is the Authorization scheme prefix.
const TokenPrefix = "Bearer "

// Token is a bearer credential.
type Token struct {
	raw       string
	subject   string
	expiresAt time.Time
	isJWT     bool
}

// ParseToken parses a raw credential. A leading "Bearer " is stripped. JWTs
// are decoded without verification to read exp and sub; anything that is
// not shaped like a JWT is treated as an opaque token.
func ParseToken(raw string) (*Token, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), TokenPrefix))
	if raw == "" {
		return nil, ErrMissingCredentials
	}

	if strings.Count(raw, ".") != 2 {
		return &Token{raw: raw}, nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	tok := &Token{raw: raw, isJWT: true}
	if exp, err := claims.GetExpirationTime(); err != nil {
		return nil, fmt.Errorf("%w: exp: %v", ErrTokenMalformed, err)
	} else if exp != nil {
		tok.expiresAt = exp.Time
	}
	if sub, err := claims.GetSubject(); err == nil {
		tok.subject = sub
	}
	return tok, nil
}

// Raw returns the credential without the scheme prefix.
func (t *Token) Raw() string { return t.raw }

// Header returns the Authorization header value.
func (t *Token) Header() string { return TokenPrefix + t.raw }

// Subject returns the JWT sub claim, if any.
func (t *Token) Subject() string { return t.subject }

// ExpiresAt returns the JWT expiry; zero means no client-side expiry.
func (t *Token) ExpiresAt() time.Time { return t.expiresAt }

// IsJWT reports whether the credential decoded as a JWT.
func (t *Token) IsJWT() bool { return t.isJWT }

// Expired reports whether the token has expired at now.
func (t *Token) Expired(now time.Time) bool {
	return !t.expiresAt.IsZero() && !now.Before(t.expiresAt)
}

// String redacts the credential.
func (t *Token) String() string {
	if t.subject != "" {
		return "Token(sub=" + t.subject + ", [REDACTED])"
	}
	return "Token([REDACTED])"
}

// Holder stores the current token and allows it to be swapped at runtime.
// The zero value holds no token.
type Holder struct {
	tok atomic.Pointer[Token]
}

// Set parses raw and stores it. An empty raw clears the token.
func (h *Holder) Set(raw string) error {
	tok, err := ParseToken(raw)
	if errors.Is(err, ErrMissingCredentials) {
		h.tok.Store(nil)
		return nil
	}
	if err != nil {
		return err
	}
	h.tok.Store(tok)
	return nil
}

// Get returns the current token, or nil.
func (h *Holder) Get() *Token { return h.tok.Load() }
