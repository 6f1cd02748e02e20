package server

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/avaliahq/tenancy/internal/auth"
	"github.com/avaliahq/tenancy/internal/models"
	"github.com/avaliahq/tenancy/internal/store"
	"github.com/avaliahq/tenancy/internal/tenant"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	inviteTokenBytes = 32
	inviteTTL        = 7 * 24 * time.Hour
)

// ErrInviteExpired is returned when an invite's acceptance window has
// passed.
var ErrInviteExpired = errors.New("invite expired")

// InviteService creates and accepts organization invites. Creation runs
// inside the inviting tenant's unit of work; acceptance is one of the two
// enumerated bootstrap operations, where the invite row itself names the
// tenant.
type InviteService struct {
	binder      store.SessionBinder
	invites     store.InviteStore
	memberships store.MembershipStore
	clock       clock.Clock
	audits      auditRecorder
}

// NewInviteService creates an invite service.
func NewInviteService(binder store.SessionBinder, invites store.InviteStore, memberships store.MembershipStore, clk clock.Clock, audits auditRecorder) *InviteService {
	return &InviteService{
		binder:      binder,
		invites:     invites,
		memberships: memberships,
		clock:       clk,
		audits:      audits,
	}
}

// Create issues a single-use invite for email with the given role. Requires
// manager or above.
func (s *InviteService) Create(ctx context.Context, tctx *tenant.Context, sess store.BoundSession, email string, role models.Role) (*models.OrganizationInvite, error) {
	if err := auth.Authorize(tctx.Role, auth.PermInviteCreate); err != nil {
		return nil, err
	}
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if role.Level() < 0 || role == models.RoleSuperAdmin {
		return nil, fmt.Errorf("invalid invite role %q", role)
	}

	token, err := newInviteToken()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	inv := &models.OrganizationInvite{
		ID:             uuid.New(),
		OrganizationID: tctx.OrganizationID,
		Email:          email,
		Role:           role,
		Token:          token,
		CreatedBy:      principalID(ctx),
		CreatedAt:      now,
		ExpiresAt:      now.Add(inviteTTL),
	}

	if err := s.invites.Create(ctx, sess, inv); err != nil {
		return nil, err
	}

	s.audits.Record(ctx, &models.AuditEntry{
		OrganizationID: &tctx.OrganizationID,
		Principal:      inv.CreatedBy,
		Action:         models.AuditActionInviteCreate,
		Source:         string(tctx.Source),
		Outcome:        models.AuditOutcomeSuccess,
		Metadata: map[string]string{
			"email": email,
			"role":  string(role),
		},
	})

	return inv, nil
}

// Accept redeems a token for the calling principal. The token lookup happens
// before any session exists; the invite row names the tenant, and the
// membership is created in a bootstrap unit of work bound to it.
func (s *InviteService) Accept(ctx context.Context, principal *auth.Principal, token string) (*models.Membership, error) {
	inv, err := s.invites.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	if inv.Accepted() {
		return nil, store.ErrInviteUsed
	}
	if inv.Expired(now) {
		return nil, ErrInviteExpired
	}

	sess, err := s.binder.Bind(ctx, inv.OrganizationID)
	if err != nil {
		return nil, err
	}
	defer sess.Close(ctx)

	m := &models.Membership{
		ID:             uuid.New(),
		OrganizationID: inv.OrganizationID,
		PrincipalID:    principal.ID,
		Role:           inv.Role,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.memberships.Create(ctx, sess, m); err != nil {
		return nil, err
	}

	if err := s.invites.MarkAccepted(ctx, sess, inv.ID, principal.ID); err != nil {
		return nil, err
	}

	if err := sess.Commit(ctx); err != nil {
		return nil, err
	}

	log.Info().
		Str("organization_id", inv.OrganizationID.String()).
		Str("principal_id", principal.ID).
		Str("role", string(inv.Role)).
		Msg("Invite accepted")

	s.audits.Record(ctx, &models.AuditEntry{
		OrganizationID: &inv.OrganizationID,
		Principal:      principal.ID,
		Action:         models.AuditActionInviteAccept,
		Source:         string(tenant.SourceBootstrap),
		Outcome:        models.AuditOutcomeSuccess,
		Metadata: map[string]string{
			"role": string(inv.Role),
		},
	})

	return m, nil
}

func newInviteToken() (string, error) {
	buf := make([]byte, inviteTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate invite token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func principalID(ctx context.Context) string {
	if p := auth.PrincipalFromContext(ctx); p != nil {
		return p.ID
	}
	return ""
}
