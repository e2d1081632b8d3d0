package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return raw
}

func TestParseToken_JWT(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	raw := signed(t, jwt.MapClaims{"sub": "user-1", "exp": exp.Unix()})

	tok, err := ParseToken("Bearer " + raw)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if !tok.IsJWT() {
		t.Error("IsJWT() = false, want true")
	}
	if tok.Subject() != "user-1" {
		t.Errorf("Subject() = %q, want user-1", tok.Subject())
	}
	if !tok.ExpiresAt().Equal(exp) {
		t.Errorf("ExpiresAt() = %v, want %v", tok.ExpiresAt(), exp)
	}
	if tok.Raw() != raw {
		t.Error("Raw() kept the Bearer prefix")
	}
	if tok.Header() != "Bearer "+raw {
		t.Errorf("Header() = %q", tok.Header())
	}
	if tok.Expired(time.Now()) {
		t.Error("Expired() = true for a token valid for another hour")
	}
}

func TestParseToken_Expired(t *testing.T) {
	exp := time.Now().Add(-time.Minute)
	tok, err := ParseToken(signed(t, jwt.MapClaims{"exp": exp.Unix()}))
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if !tok.Expired(time.Now()) {
		t.Error("Expired() = false, want true")
	}
	if tok.Expired(exp.Add(-time.Second)) {
		t.Error("Expired() = true before exp")
	}
}

func TestParseToken_Opaque(t *testing.T) {
	tok, err := ParseToken("abc123")
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if tok.IsJWT() || !tok.ExpiresAt().IsZero() {
		t.Errorf("opaque token decoded as %+v", tok)
	}
	if tok.Expired(time.Now().Add(100 * 365 * 24 * time.Hour)) {
		t.Error("opaque token expired")
	}
}

func TestParseToken_Errors(t *testing.T) {
	if _, err := ParseToken("  "); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("ParseToken(blank) error = %v, want ErrMissingCredentials", err)
	}
	if _, err := ParseToken("not.a.jwt"); !errors.Is(err, ErrTokenMalformed) {
		t.Errorf("ParseToken(not.a.jwt) error = %v, want ErrTokenMalformed", err)
	}
}

func TestToken_StringRedacts(t *testing.T) {
	raw := signed(t, jwt.MapClaims{"sub": "user-1"})
	tok, _ := ParseToken(raw)

	if s := tok.String(); strings.Contains(s, raw) || !strings.Contains(s, "REDACTED") {
		t.Errorf("String() = %q leaks the credential", s)
	}
}

func TestHolder(t *testing.T) {
	var h Holder
	if h.Get() != nil {
		t.Fatal("zero Holder has a token")
	}
	if err := h.Set("abc"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if h.Get().Raw() != "abc" {
		t.Errorf("Get().Raw() = %q, want abc", h.Get().Raw())
	}
	if err := h.Set(""); err != nil {
		t.Fatalf("Set(\"\") error = %v", err)
	}
	if h.Get() != nil {
		t.Error("Set(\"\") did not clear the token")
	}
	if err := h.Set("x.y.z"); err == nil {
		t.Error("Set(malformed) error = nil")
	}
}
