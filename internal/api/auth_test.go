package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/careportal/internal/model"
)

func TestAuthClient_Login_CamelCaseTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/auth/login" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		var creds model.Credentials
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if creds.Email != "admin@example.com" || creds.Password != "secret" {
			t.Errorf("creds = %+v", creds)
		}
		respondJSON(w, http.StatusOK, `{"user":{"id":"u1","name":"Admin","email":"admin@example.com","role":"admin"},"accessToken":"t1","refreshToken":"t2"}`)
	}))
	defer server.Close()

	c := newTestClient(t, server, nil)
	resp, err := NewAuthClient(c).Login(context.Background(), model.Credentials{Email: "admin@example.com", Password: "secret"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if resp.User == nil || resp.User.Role != model.RoleAdmin {
		t.Errorf("User = %+v", resp.User)
	}
	if resp.AccessToken != "t1" || resp.RefreshToken != "t2" {
		t.Errorf("tokens = %q/%q", resp.AccessToken, resp.RefreshToken)
	}
}

func TestAuthClient_Register_ShortTokenNames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/register" {
			t.Errorf("path = %s", r.URL.Path)
		}
		respondJSON(w, http.StatusCreated, `{"user":{"id":"u2","name":"Pat","email":"pat@example.com","role":"patient"},"access":"a","refresh":"r"}`)
	}))
	defer server.Close()

	c := newTestClient(t, server, nil)
	resp, err := NewAuthClient(c).Register(context.Background(), model.Registration{Name: "Pat", Email: "pat@example.com", Password: "pw"})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if resp.AccessToken != "a" || resp.RefreshToken != "r" || resp.User.Role != model.RolePatient {
		t.Errorf("resp = %+v", resp)
	}
}

func TestAuthClient_Login_DataEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, `{"data":{"user":{"id":"u3","role":"doctor"},"tokens":{"access":"x","refresh":"y"}}}`)
	}))
	defer server.Close()

	c := newTestClient(t, server, nil)
	resp, err := NewAuthClient(c).Login(context.Background(), model.Credentials{})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if resp.User.ID != "u3" || resp.AccessToken != "x" || resp.RefreshToken != "y" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestAuthClient_Login_MissingUser(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, `{"accessToken":"t1"}`)
	}))
	defer server.Close()

	c := newTestClient(t, server, nil)
	_, err := NewAuthClient(c).Login(context.Background(), model.Credentials{})
	if model.KindOf(err) != model.KindServer {
		t.Errorf("kind = %q, want server", model.KindOf(err))
	}
}

func TestAuthClient_Login_InvalidCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusUnauthorized, `{"detail":"No active account found with the given credentials"}`)
	}))
	defer server.Close()

	c := newTestClient(t, server, nil)
	_, err := NewAuthClient(c).Login(context.Background(), model.Credentials{Email: "x@example.com", Password: "bad"})
	if model.KindOf(err) != model.KindAuth {
		t.Fatalf("kind = %q, want auth", model.KindOf(err))
	}
}

func TestAuthClient_PasswordResetFlow(t *testing.T) {
	var bodies = map[string]map[string]string{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies[r.URL.Path] = body
		respondJSON(w, http.StatusOK, `{"message":"ok"}`)
	}))
	defer server.Close()

	auth := NewAuthClient(newTestClient(t, server, nil))
	ctx := context.Background()

	if err := auth.RequestPasswordReset(ctx, "pat@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if err := auth.ConfirmPasswordReset(ctx, "pat@example.com", "123456", "n3w-pass"); err != nil {
		t.Fatalf("ConfirmPasswordReset failed: %v", err)
	}

	if bodies["/auth/password-reset"]["email"] != "pat@example.com" {
		t.Errorf("reset request body = %v", bodies["/auth/password-reset"])
	}
	confirm := bodies["/auth/password-reset/confirm"]
	if confirm["email"] != "pat@example.com" || confirm["otp"] != "123456" || confirm["new_password"] != "n3w-pass" {
		t.Errorf("confirm body = %v", confirm)
	}
}
