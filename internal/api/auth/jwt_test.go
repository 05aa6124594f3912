package auth

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndParseRoundTrip(t *testing.T) {
	tokens, err := NewTokenManager("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("create token manager: %v", err)
	}

	now := time.Now()
	signed, expiresAt, err := tokens.Issue(42, "Alice", "alice@example.com", now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if want := now.Add(time.Hour); !expiresAt.Equal(want) {
		t.Errorf("expires at %v, want %v", expiresAt, want)
	}

	claims, err := tokens.Parse(signed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != 42 || claims.Name != "Alice" || claims.Email != "alice@example.com" {
		t.Errorf("claims = %+v, want user 42 Alice alice@example.com", claims)
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	tokens, err := NewTokenManager("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("create token manager: %v", err)
	}

	signed, _, err := tokens.Issue(42, "Alice", "alice@example.com", time.Now().Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := tokens.Parse(signed); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("parse expired token error = %v, want ErrInvalidToken", err)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	issuer, err := NewTokenManager("secret-one", time.Hour)
	if err != nil {
		t.Fatalf("create issuer: %v", err)
	}
	verifier, err := NewTokenManager("secret-two", time.Hour)
	if err != nil {
		t.Fatalf("create verifier: %v", err)
	}

	signed, _, err := issuer.Issue(42, "Alice", "alice@example.com", time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.Parse(signed); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("parse with wrong secret error = %v, want ErrInvalidToken", err)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	tokens, err := NewTokenManager("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("create token manager: %v", err)
	}
	if _, err := tokens.Parse("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("parse garbage error = %v, want ErrInvalidToken", err)
	}
}

func TestNewTokenManagerValidation(t *testing.T) {
	if _, err := NewTokenManager("", time.Hour); err == nil {
		t.Error("empty secret accepted")
	}
	if _, err := NewTokenManager("secret", 0); err == nil {
		t.Error("zero ttl accepted")
	}
}
