package auth

import (
	"testing"
	"time"
)

func newManager(secret string) *TokenManager {
	return NewTokenManager(TokenManagerConfig{
		SigningSecret: []byte(secret),
		Issuer:        "huddle-auth",
		Audience:      "huddle-api",
		TokenTTL:      30 * time.Minute,
	})
}

func TestIssueAndValidateRoundTrip(t *testing.T) {
	manager := newManager("super-secret")

	tokenString, err := manager.IssueToken("user-123")
	if err != nil {
		t.Fatalf("issuance failed: %v", err)
	}

	subject, err := manager.ValidateToken(tokenString)
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if subject != "user-123" {
		t.Fatalf("unexpected subject %q", subject)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	tokenString, err := newManager("secret-one").IssueToken("user-123")
	if err != nil {
		t.Fatalf("issuance failed: %v", err)
	}

	if _, err := newManager("secret-two").ValidateToken(tokenString); err == nil {
		t.Fatalf("expected validation failure with mismatched secret")
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	issuedAt := time.Unix(1700000000, 0)
	issuer := NewTokenManager(TokenManagerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "huddle-auth",
		Audience:      "huddle-api",
		TokenTTL:      time.Minute,
		Clock: func() time.Time {
			return issuedAt
		},
	})
	tokenString, err := issuer.IssueToken("user-123")
	if err != nil {
		t.Fatalf("issuance failed: %v", err)
	}

	validator := NewTokenManager(TokenManagerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "huddle-auth",
		Audience:      "huddle-api",
		Clock: func() time.Time {
			return issuedAt.Add(2 * time.Minute)
		},
	})
	if _, err := validator.ValidateToken(tokenString); err == nil {
		t.Fatalf("expected validation failure for expired token")
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	if _, err := newManager("super-secret").ValidateToken("not.a.token"); err == nil {
		t.Fatalf("expected validation failure for malformed token")
	}
}

func TestIssueRequiresSubject(t *testing.T) {
	if _, err := newManager("super-secret").IssueToken(""); err == nil {
		t.Fatalf("expected issuance failure for empty subject")
	}
}
