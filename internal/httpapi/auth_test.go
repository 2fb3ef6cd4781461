package httpapi

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"gudang/backend/internal/domain"
)

func TestIssuedTokenRoundTrips(t *testing.T) {
	manager := NewAuthManager("test-secret-key-0123456789abcdef", time.Hour, "739154")

	token, expiresAt, err := manager.IssueToken("rina", domain.RoleAccountant)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if !expiresAt.After(time.Now()) {
		t.Fatalf("expected expiry in the future, got %s", expiresAt)
	}

	actor, err := manager.ParseToken(token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "rina" || actor.Role != domain.RoleAccountant {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestParseTokenRejectsForeignSecretAndExpiry(t *testing.T) {
	manager := NewAuthManager("test-secret-key-0123456789abcdef", time.Hour, "739154")
	other := NewAuthManager("another-secret-key-0123456789abcd", time.Hour, "739154")

	token, _, err := other.IssueToken("rina", domain.RoleAdmin)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := manager.ParseToken(token); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}

	expired := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, gudangClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "rina",
			Issuer:    tokenIssuer,
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		Role: domain.RoleAdmin,
	})
	signed, err := expired.SignedString(manager.secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := manager.ParseToken(signed); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestAdminPINIsHashedAndStillValidates(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "654321")

	if manager.adminPIN == "654321" {
		t.Fatalf("expected admin pin to be stored as hash, got plain-text")
	}
	if !manager.ValidateAdminPIN("654321") {
		t.Fatalf("expected admin pin validation to succeed")
	}
	if manager.ValidateAdminPIN("111111") {
		t.Fatalf("expected wrong admin pin to fail")
	}
	if manager.ValidateAdminPIN("") {
		t.Fatalf("expected empty admin pin to fail")
	}
}
