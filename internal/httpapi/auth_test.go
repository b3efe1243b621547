package httpapi

import (
	"testing"
	"time"

	"inventra/backend/internal/domain"
	"inventra/backend/internal/store/memory"
)

func TestLoginAndParseToken(t *testing.T) {
	auth := NewAuthManager("test-secret-key", time.Hour, memory.New())

	resp, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.Role != "admin" {
		t.Fatalf("expected admin role, got %s", resp.Role)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "admin" || actor.Role != "admin" {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	auth := NewAuthManager("test-secret-key", time.Hour, memory.New())

	if _, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "wrong"}); err == nil {
		t.Fatalf("expected bad password rejected")
	}
	if _, err := auth.Login(domain.LoginRequest{Username: "ghost", Password: "admin123"}); err == nil {
		t.Fatalf("expected unknown user rejected")
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	issuer := NewAuthManager("secret-one-secret-one-secret-one", time.Hour, memory.New())
	verifier := NewAuthManager("secret-two-secret-two-secret-two", time.Hour, memory.New())

	resp, err := issuer.Login(domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := verifier.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestCreateClerkValidation(t *testing.T) {
	auth := NewAuthManager("test-secret-key", time.Hour, memory.New())

	cases := []domain.ClerkCreateRequest{
		{Username: "ab", Password: "longenough"},
		{Username: "valid user", Password: "longenough"},
		{Username: "newclerk", Password: "short"},
		{Username: "admin", Password: "longenough"},
	}
	for _, req := range cases {
		if _, err := auth.CreateClerk(req); err == nil {
			t.Fatalf("expected %+v rejected", req)
		}
	}

	clerk, err := auth.CreateClerk(domain.ClerkCreateRequest{Username: "newclerk", Password: "longenough"})
	if err != nil {
		t.Fatalf("create clerk: %v", err)
	}
	if clerk.Role != "clerk" || !clerk.Active {
		t.Fatalf("unexpected clerk: %+v", clerk)
	}

	if _, err := auth.Login(domain.LoginRequest{Username: "newclerk", Password: "longenough"}); err != nil {
		t.Fatalf("new clerk login: %v", err)
	}

	clerks := auth.ListClerks()
	found := false
	for _, c := range clerks {
		if c.Username == "newclerk" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected newclerk in clerk list")
	}
}
