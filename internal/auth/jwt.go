package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// Claims are the gateway token claims. The gateway authenticates the user
// and mints a short-lived HS256 token naming them; this service only
// verifies it.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Verifier verifies gateway-issued bearer tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for the shared gateway secret.
func NewVerifier(secret string) (*Verifier, error) {
	if len(secret) < 32 {
		return nil, errors.New("JWT secret must be at least 32 bytes for HMAC-SHA256")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Parse verifies a raw token and returns the principal it names.
func (v *Verifier) Parse(tokenStr string) (*Principal, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("invalid signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid claims")
	}
	if claims.Subject == "" {
		return nil, errors.New("token missing subject")
	}

	return &Principal{ID: claims.Subject, Email: claims.Email}, nil
}

// Middleware returns an HTTP middleware that verifies the Authorization
// bearer token and attaches the principal to the request context.
// Unauthenticated requests are rejected with 401 before any tenant
// resolution runs.
func (v *Verifier) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := BearerToken(r)
			if !ok {
				unauthorized(w)
				return
			}

			principal, err := v.Parse(tokenStr)
			if err != nil {
				log.Debug().Err(err).Msg("JWT verification failed")
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), principal)))
		})
	}
}

// Sign mints a token for a principal. Used by tests and the tenctl token
// command; production tokens come from the gateway.
func Sign(secret, subject, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString([]byte(secret))
}

// BearerToken extracts the Authorization bearer token, if present.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}
