package tenant

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubdomainFromHost(t *testing.T) {
	tests := []struct {
		name string
		host string
		base string
		want string
	}{
		{"simple subdomain", "acme.platform.example", "platform.example", "acme"},
		{"with port", "acme.platform.example:8443", "platform.example", "acme"},
		{"mixed case", "Acme.Platform.Example", "platform.example", "acme"},
		{"bare base domain", "platform.example", "platform.example", ""},
		{"nested subdomain", "a.b.platform.example", "platform.example", ""},
		{"other domain", "acme.evil.example", "platform.example", ""},
		{"suffix but not subdomain", "notplatform.example", "platform.example", ""},
		{"no base configured", "acme.platform.example", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, SubdomainFromHost(tt.host, tt.base))
		})
	}
}

func TestSignalsFromRequest(t *testing.T) {
	const secret = "gateway-secret"

	t.Run("trusted header honored with secret", func(t *testing.T) {
		r := httptest.NewRequest("GET", "http://platform.example/", nil)
		r.Header.Set(TenantHeader, "Acme")
		r.Header.Set(GatewaySecretHeader, secret)

		sig := SignalsFromRequest(r, "", "platform.example", secret)
		require.Equal(t, "acme", sig.HeaderSlug)
	})

	t.Run("header ignored without secret", func(t *testing.T) {
		r := httptest.NewRequest("GET", "http://platform.example/", nil)
		r.Header.Set(TenantHeader, "acme")

		sig := SignalsFromRequest(r, "", "platform.example", secret)
		require.Empty(t, sig.HeaderSlug)
	})

	t.Run("header ignored with wrong secret", func(t *testing.T) {
		r := httptest.NewRequest("GET", "http://platform.example/", nil)
		r.Header.Set(TenantHeader, "acme")
		r.Header.Set(GatewaySecretHeader, "wrong")

		sig := SignalsFromRequest(r, "", "platform.example", secret)
		require.Empty(t, sig.HeaderSlug)
	})

	t.Run("all signals extracted", func(t *testing.T) {
		r := httptest.NewRequest("GET", "http://acme.platform.example/org/acme/assessments", nil)
		r.Header.Set(TenantHeader, "acme")
		r.Header.Set(GatewaySecretHeader, secret)

		sig := SignalsFromRequest(r, "acme", "platform.example", secret)
		require.Equal(t, Signals{PathSlug: "acme", HeaderSlug: "acme", Subdomain: "acme"}, sig)
		require.False(t, sig.Empty())
	})
}
