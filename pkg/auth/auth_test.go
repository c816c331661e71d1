package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/payback159/cubesatbudget/pkg/models"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestAllowAll(t *testing.T) {
	if err := (AllowAll{}).Authenticate(context.Background(), "", ""); err != nil {
		t.Errorf("AllowAll rejected login: %v", err)
	}
}

func TestPasswordPolicy(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	p, err := NewPasswordPolicy(map[string]string{"ops": string(hash)})
	if err != nil {
		t.Fatalf("NewPasswordPolicy: %v", err)
	}

	tests := []struct {
		name     string
		user     string
		password string
		ok       bool
	}{
		{"correct", "ops", "s3cret", true},
		{"wrong password", "ops", "nope", false},
		{"unknown user", "eve", "s3cret", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Authenticate(context.Background(), tt.user, tt.password)
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, models.ErrUnauthorized) {
				t.Errorf("expected ErrUnauthorized, got %v", err)
			}
		})
	}

	if _, err := NewPasswordPolicy(map[string]string{"ops": "plaintext"}); err == nil {
		t.Error("expected error for a non-bcrypt hash")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, time.Hour)
	token, expires, err := issuer.Issue("ops")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(expires) <= 0 {
		t.Errorf("token already expired: %v", expires)
	}
	claims, err := issuer.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Username != "ops" {
		t.Errorf("username: got %q", claims.Username)
	}

	other := NewTokenIssuer("another-secret-another-secret-xx", time.Hour)
	if _, err := other.Parse(token); !errors.Is(err, models.ErrUnauthorized) {
		t.Errorf("foreign secret: expected ErrUnauthorized, got %v", err)
	}
}

func TestTokenExpired(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, time.Minute)
	issuer.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, _, err := issuer.Issue("ops")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	issuer.now = time.Now
	if _, err := issuer.Parse(token); !errors.Is(err, models.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for expired token, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, time.Hour)
	token, _, _ := issuer.Issue("ops")

	var seenUser string
	h := Middleware(issuer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUser, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"public path", "/healthz", "", http.StatusOK},
		{"login is public", "/api/login", "", http.StatusOK},
		{"missing token", "/api/projects", "", http.StatusUnauthorized},
		{"not bearer", "/api/projects", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "/api/projects", "Bearer abc", http.StatusUnauthorized},
		{"valid token", "/api/projects", "Bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("status: want %d, got %d", tt.want, rr.Code)
			}
		})
	}
	if seenUser != "ops" {
		t.Errorf("user not propagated, got %q", seenUser)
	}

	open := Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rr := httptest.NewRecorder()
	open.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/projects", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("nil issuer should pass through, got %d", rr.Code)
	}
}
