package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthenticateStaticToken(t *testing.T) {
	svc := NewService("secret-token")
	if !svc.Enabled() {
		t.Fatal("service should be enabled with a token")
	}
	if err := svc.Authenticate("Bearer secret-token"); err != nil {
		t.Fatalf("bearer form rejected: %v", err)
	}
	if err := svc.Authenticate("secret-token"); err != nil {
		t.Fatalf("bare token rejected: %v", err)
	}
	if err := svc.Authenticate(""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
	if err := svc.Authenticate("Bearer wrong"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestAuthenticateDisabledWhenTokenEmpty(t *testing.T) {
	svc := NewService("  ")
	if svc.Enabled() {
		t.Fatal("blank token should disable auth")
	}
	if err := svc.Authenticate(""); err != nil {
		t.Fatalf("disabled service should accept any request: %v", err)
	}
}

func TestMiddlewareOpenPaths(t *testing.T) {
	svc := NewService("secret-token")
	handler := svc.Middleware("/.well-known/agent.json")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/agent.json", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("open path status = %d, want %d", rec.Code, http.StatusNoContent)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/a2a/v1", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("protected path status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	req := httptest.NewRequest(http.MethodPost, "/a2a/v1", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("authorized status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}
