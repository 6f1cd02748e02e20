package store

import (
	"context"
	"errors"

	"github.com/avaliahq/tenancy/internal/models"
	"github.com/google/uuid"
)

// ErrAssessmentNotFound is returned for assessments outside the bound
// tenant's visibility, whether they exist elsewhere or not.
var ErrAssessmentNotFound = errors.New("assessment not found")

// AssessmentStore manages tenant-scoped assessment data. Queries carry no
// tenant filter of their own: visibility comes from the bound session's
// marker and the schema-level rules. Implementations double-check scanned
// rows against the session tenant and return ErrPolicyViolation on mismatch
// as a secondary defense.
type AssessmentStore interface {
	// Create inserts an assessment for the bound tenant.
	Create(ctx context.Context, sess BoundSession, a *models.Assessment) error

	// Get returns one assessment visible to the bound tenant.
	// Returns ErrAssessmentNotFound otherwise.
	Get(ctx context.Context, sess BoundSession, id uuid.UUID) (*models.Assessment, error)

	// List returns the bound tenant's assessments, newest first.
	List(ctx context.Context, sess BoundSession) ([]*models.Assessment, error)

	// AddResponse inserts a response to an assessment of the bound tenant.
	// Returns ErrAssessmentNotFound if the assessment is not visible.
	AddResponse(ctx context.Context, sess BoundSession, r *models.AssessmentResponse) error

	// CountResponses returns the number of responses visible to the bound
	// tenant for one assessment.
	CountResponses(ctx context.Context, sess BoundSession, assessmentID uuid.UUID) (int64, error)
}
