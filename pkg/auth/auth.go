// Package auth holds the login policy and the optional bearer-token check
// of the HTTP front end.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/payback159/cubesatbudget/pkg/models"
)

// Policy decides whether a user may log in.
type Policy interface {
	Authenticate(ctx context.Context, user, password string) error
}

// AllowAll accepts every login. It is the default for a local tool.
type AllowAll struct{}

func (AllowAll) Authenticate(context.Context, string, string) error { return nil }

// PasswordPolicy checks passwords against bcrypt hashes keyed by user name.
type PasswordPolicy struct {
	users map[string][]byte
}

// dummyHash keeps unknown-user logins as slow as known ones.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("cubesatbudget"), bcrypt.MinCost)

func NewPasswordPolicy(users map[string]string) (*PasswordPolicy, error) {
	p := &PasswordPolicy{users: make(map[string][]byte, len(users))}
	for name, hash := range users {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("user %q: invalid bcrypt hash: %w", name, err)
		}
		p.users[name] = []byte(hash)
	}
	return p, nil
}

func (p *PasswordPolicy) Authenticate(_ context.Context, user, password string) error {
	hash, ok := p.users[user]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return models.ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return models.ErrUnauthorized
	}
	return nil
}

// HashPassword returns a bcrypt hash suitable for the auth.users config.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 session tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed token for user.
func (t *TokenIssuer) Issue(user string) (string, time.Time, error) {
	now := t.now()
	expires := now.Add(t.ttl)
	claims := Claims{
		Username: user,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Parse verifies tokenString and returns its claims.
func (t *TokenIssuer) Parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("%w: invalid token", models.ErrUnauthorized)
}

type contextKey struct{}

// UserFromContext returns the user the middleware authenticated, if any.
func UserFromContext(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(contextKey{}).(string)
	return user, ok
}

// publicPaths never require a token.
var publicPaths = map[string]bool{
	"/healthz":   true,
	"/metrics":   true,
	"/api/login": true,
	"/api/csrf":  true,
}

// Middleware enforces a Bearer token on every non-public path. A nil
// issuer disables the check.
func Middleware(issuer *TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if issuer == nil || publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			token := strings.TrimPrefix(header, "Bearer ")
			if header == "" || token == header {
				unauthorized(w)
				return
			}
			claims, err := issuer.Parse(token)
			if err != nil {
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), contextKey{}, claims.Username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(models.Message{Type: models.MessageError, Text: "unauthorized"})
}
