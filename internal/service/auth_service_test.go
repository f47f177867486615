package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stemsi/examhub/internal/config"
)

func testAuth() *AuthService {
	return NewAuthService(&config.Config{JWTSecret: "test-secret", JWTExpiry: time.Hour})
}

func TestIssueAndValidateToken(t *testing.T) {
	auth := testAuth()

	token, err := auth.IssueToken(42)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	claims, err := auth.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != 42 || claims.Subject != "42" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestValidateTokenRejects(t *testing.T) {
	auth := testAuth()
	token, _ := auth.IssueToken(7)

	other := NewAuthService(&config.Config{JWTSecret: "another-secret", JWTExpiry: time.Hour})
	if _, err := other.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong secret: err = %v", err)
	}

	expired := testAuth()
	expired.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := expired.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired: err = %v", err)
	}

	if _, err := auth.ValidateToken("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage: err = %v", err)
	}
}

func TestIssueTokenRejectsBadUser(t *testing.T) {
	if _, err := testAuth().IssueToken(0); err == nil {
		t.Error("expected error for user id 0")
	}
}
