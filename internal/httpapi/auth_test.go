package httpapi

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tillpoint/backend/internal/domain"
)

const testTenantID = "00000000-0000-0000-0000-000000000001"

var errNoSuchUser = errors.New("no such user")

type userStoreStub struct {
	users map[string]domain.UserAccount
}

func (s *userStoreStub) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	user, ok := s.users[username]
	if !ok {
		return nil, errNoSuchUser
	}
	return &user, nil
}

func newUserStoreStub(t *testing.T) *userStoreStub {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				ID:        "usr-admin",
				TenantID:  testTenantID,
				Username:  "admin",
				Password:  string(hash),
				Role:      "admin",
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}
}

func TestLoginAndParseTokenRoundTrip(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, newUserStoreStub(t))

	resp, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.TenantID != testTenantID {
		t.Fatalf("expected tenant %s in response, got %s", testTenantID, resp.TenantID)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.UserID != "usr-admin" || actor.TenantID != testTenantID || actor.Role != "admin" {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, newUserStoreStub(t))

	_, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "wrong",
	})
	if err == nil {
		t.Fatalf("expected wrong password to fail")
	}
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	stub := newUserStoreStub(t)
	user := stub.users["admin"]
	user.Active = false
	stub.users["admin"] = user

	manager := NewAuthManager("test-secret", time.Hour, stub)
	_, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err == nil {
		t.Fatalf("expected inactive account login to fail")
	}
}

func TestParseTokenRejectsOtherSecret(t *testing.T) {
	stub := newUserStoreStub(t)
	manager := NewAuthManager("test-secret", time.Hour, stub)
	other := NewAuthManager("another-secret", time.Hour, stub)

	resp, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with other secret to fail")
	}
}

func TestParseTokenRejectsNonUUIDTenant(t *testing.T) {
	stub := newUserStoreStub(t)
	user := stub.users["admin"]
	user.TenantID = "not-a-uuid"
	stub.users["admin"] = user

	manager := NewAuthManager("test-secret", time.Hour, stub)
	resp, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if _, err := manager.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected malformed tenant claim to be rejected")
	}
}

func TestHashPasswordVerifies(t *testing.T) {
	hash, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if !verifyPassword(hash, "secret") {
		t.Fatalf("expected hash to verify")
	}
	if verifyPassword(hash, "other") {
		t.Fatalf("expected wrong password to fail")
	}
	if verifyPassword("plain-text", "plain-text") {
		t.Fatalf("expected plain-text stored password to be rejected")
	}
}
