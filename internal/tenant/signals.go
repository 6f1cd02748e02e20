package tenant

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/avaliahq/tenancy/internal/models"
)

const (
	// TenantHeader carries a tenant slug set by the upstream gateway. It is
	// only honored when the gateway secret header authenticates the hop.
	TenantHeader = "X-Tenant"

	// GatewaySecretHeader authenticates the hop from the upstream gateway.
	GatewaySecretHeader = "X-Gateway-Secret"
)

// Signals are the routing inputs tenant resolution works from. Each field is
// empty when the corresponding signal is absent. Precedence for selecting
// the primary signal is path, then header, then subdomain; any disagreement
// between present signals is fatal regardless of precedence.
type Signals struct {
	PathSlug   string
	HeaderSlug string
	Subdomain  string
}

// Empty reports whether no signal is present at all.
func (s Signals) Empty() bool {
	return s.PathSlug == "" && s.HeaderSlug == "" && s.Subdomain == ""
}

// SignalsFromRequest extracts resolution signals from an inbound request.
// pathSlug comes from the router (the /org/{slug} segment) and may be empty.
// The X-Tenant header is ignored unless the gateway secret matches; a header
// from an unauthenticated hop is an attacker-controlled value, not a signal.
func SignalsFromRequest(r *http.Request, pathSlug, baseDomain, gatewaySecret string) Signals {
	sig := Signals{
		PathSlug:  models.NormalizeSlug(pathSlug),
		Subdomain: SubdomainFromHost(r.Host, baseDomain),
	}

	if hdr := r.Header.Get(TenantHeader); hdr != "" && gatewaySecret != "" {
		got := r.Header.Get(GatewaySecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(gatewaySecret)) == 1 {
			sig.HeaderSlug = models.NormalizeSlug(hdr)
		}
	}

	return sig
}

// SubdomainFromHost extracts the tenant slug from a host like
// "acme.platform.example" given the configured base domain
// "platform.example". It returns "" when the host is the bare base domain,
// a nested subdomain, or some other domain entirely.
func SubdomainFromHost(host, baseDomain string) string {
	if baseDomain == "" {
		return ""
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	baseDomain = strings.ToLower(baseDomain)

	suffix := "." + baseDomain
	if !strings.HasSuffix(host, suffix) {
		return ""
	}

	sub := strings.TrimSuffix(host, suffix)
	if sub == "" || strings.Contains(sub, ".") {
		return ""
	}
	return sub
}
