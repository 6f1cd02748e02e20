package memory

import "context"

// PolicyVerifier implements store.PolicyVerifier for the memory backend.
// Isolation here is enforced in code by the session checks, not by schema
// rules, so there is nothing to inspect and verification always passes.
type PolicyVerifier struct{}

// NewPolicyVerifier creates a verifier for the memory backend.
func NewPolicyVerifier() *PolicyVerifier {
	return &PolicyVerifier{}
}

// Verify reports success unconditionally.
func (*PolicyVerifier) Verify(ctx context.Context) error {
	return nil
}
