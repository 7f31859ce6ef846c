package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestServiceLoginAndLogout(t *testing.T) {
	store := NewMemoryStore()
	service := NewService("secret", time.Hour, store)
	ctx := context.Background()

	_, err := service.Login(ctx, "sess-1", "wrong")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized on wrong password, got %v", err)
	}
	if service.IsAuthorized(ctx, "sess-1") {
		t.Fatalf("failed login must not authorize")
	}

	session, err := service.Login(ctx, "sess-1", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.SessionID != "sess-1" || session.Token == "" {
		t.Fatalf("unexpected session: %+v", session)
	}

	if !service.IsAuthorized(ctx, "sess-1") {
		t.Fatalf("session should be authorized")
	}
	if service.IsAuthorized(ctx, "sess-2") {
		t.Fatalf("other session must stay unauthorized")
	}

	service.Logout(ctx, "sess-1")
	if service.IsAuthorized(ctx, "sess-1") {
		t.Fatalf("session should be logged out")
	}
}

func TestServiceNoRetryLimit(t *testing.T) {
	service := NewService("secret", time.Hour, NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		if _, err := service.Login(ctx, "sess", "nope"); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("attempt %d: expected ErrUnauthorized, got %v", i, err)
		}
	}
	if _, err := service.Login(ctx, "sess", "secret"); err != nil {
		t.Fatalf("correct password must still work after failures: %v", err)
	}
}

func TestServiceRejectsEmptySessionID(t *testing.T) {
	service := NewService("secret", time.Hour, NewMemoryStore())
	if _, err := service.Login(context.Background(), "", "secret"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for empty session id, got %v", err)
	}
}
