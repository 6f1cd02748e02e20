package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestVerifier_Parse(t *testing.T) {
	v, err := NewVerifier(testSecret)
	require.NoError(t, err)

	t.Run("valid token", func(t *testing.T) {
		tokenStr, err := Sign(testSecret, "user-123", "user@example.com", time.Hour)
		require.NoError(t, err)

		p, err := v.Parse(tokenStr)
		require.NoError(t, err)
		require.Equal(t, "user-123", p.ID)
		require.Equal(t, "user@example.com", p.Email)
	})

	t.Run("expired token", func(t *testing.T) {
		tokenStr, err := Sign(testSecret, "user-123", "", -time.Minute)
		require.NoError(t, err)

		_, err = v.Parse(tokenStr)
		require.Error(t, err)
	})

	t.Run("wrong secret", func(t *testing.T) {
		tokenStr, err := Sign("ffffffffffffffffffffffffffffffff", "user-123", "", time.Hour)
		require.NoError(t, err)

		_, err = v.Parse(tokenStr)
		require.Error(t, err)
	})

	t.Run("missing subject", func(t *testing.T) {
		tokenStr, err := Sign(testSecret, "", "", time.Hour)
		require.NoError(t, err)

		_, err = v.Parse(tokenStr)
		require.Error(t, err)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := v.Parse("not.a.token")
		require.Error(t, err)
	})
}

func TestNewVerifier_ShortSecret(t *testing.T) {
	_, err := NewVerifier("too-short")
	require.Error(t, err)
}

func TestVerifier_Middleware(t *testing.T) {
	v, err := NewVerifier(testSecret)
	require.NoError(t, err)

	handler := v.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := PrincipalFromContext(r.Context())
		require.NotNil(t, p)
		require.Equal(t, "user-123", p.ID)
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("authenticated request passes", func(t *testing.T) {
		tokenStr, err := Sign(testSecret, "user-123", "user@example.com", time.Hour)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tokenStr)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing token gets 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed header gets 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
