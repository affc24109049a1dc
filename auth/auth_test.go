package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wfunc/mahjongserver/apperr"
)

func TestIssueAndVerify(t *testing.T) {
	v := NewVerifier("secret", "mahjong-server")

	token, err := v.Issue("alice@example.com", "", time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	id, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if id.Email != "alice@example.com" {
		t.Errorf("Expected alice@example.com, got %s", id.Email)
	}
	if id.Nickname != "alice" {
		t.Errorf("Expected nickname to default to the local part, got %s", id.Nickname)
	}
}

func TestVerifyRejects(t *testing.T) {
	v := NewVerifier("secret", "mahjong-server")
	other := NewVerifier("other-secret", "mahjong-server")
	wrongIssuer := NewVerifier("secret", "someone-else")

	forged, _ := other.Issue("alice@example.com", "", time.Hour)
	expired, _ := v.Issue("alice@example.com", "", -time.Minute)
	foreign, _ := wrongIssuer.Issue("alice@example.com", "", time.Hour)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"wrong secret", forged},
		{"expired", expired},
		{"wrong issuer", foreign},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Verify(tt.token); !errors.Is(err, apperr.ErrUnauthenticated) {
				t.Errorf("Expected ErrUnauthenticated, got %v", err)
			}
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=abc", nil)
	if got := TokenFromRequest(r); got != "abc" {
		t.Errorf("Expected token from query, got %q", got)
	}

	r = httptest.NewRequest("GET", "/api/rooms", nil)
	r.Header.Set("Authorization", "Bearer xyz")
	if got := TokenFromRequest(r); got != "xyz" {
		t.Errorf("Expected token from header, got %q", got)
	}

	r = httptest.NewRequest("GET", "/api/rooms", nil)
	if got := TokenFromRequest(r); got != "" {
		t.Errorf("Expected no token, got %q", got)
	}
}
