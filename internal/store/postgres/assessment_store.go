package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/avaliahq/tenancy/internal/models"
	"github.com/avaliahq/tenancy/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// AssessmentStore implements store.AssessmentStore using PostgreSQL. No
// query carries a tenant filter: the row policies scope every statement to
// the bound session's marker, and checkTenant double-checks scanned rows.
type AssessmentStore struct {
	pool *pgxpool.Pool
}

// NewAssessmentStore creates a new PostgreSQL-backed assessment store.
func NewAssessmentStore(pool *pgxpool.Pool) *AssessmentStore {
	return &AssessmentStore{
		pool: pool,
	}
}

// Create inserts an assessment for the bound tenant.
func (s *AssessmentStore) Create(ctx context.Context, sess store.BoundSession, a *models.Assessment) error {
	tx, err := sessionTx(sess)
	if err != nil {
		return err
	}
	if err := checkTenant(sess, a.OrganizationID); err != nil {
		return err
	}

	query := `
		INSERT INTO assessments (
			id, organization_id, title, instrument, status, created_by
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
		RETURNING created_at, updated_at
	`

	err = tx.QueryRow(ctx, query,
		a.ID,
		a.OrganizationID,
		a.Title,
		a.Instrument,
		a.Status,
		a.CreatedBy,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create assessment: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("assessment_id", a.ID.String()).
		Str("instrument", a.Instrument).
		Msg("Created assessment")

	return nil
}

// Get returns one assessment visible to the bound tenant.
func (s *AssessmentStore) Get(ctx context.Context, sess store.BoundSession, id uuid.UUID) (*models.Assessment, error) {
	tx, err := sessionTx(sess)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, organization_id, title, instrument, status, created_by, created_at, updated_at
		FROM assessments
		WHERE id = $1
	`

	a, err := scanAssessment(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("failed to get assessment: %w", mapPostgresError(err))
	}
	if err := checkTenant(sess, a.OrganizationID); err != nil {
		return nil, err
	}

	return a, nil
}

// List returns the bound tenant's assessments, newest first.
func (s *AssessmentStore) List(ctx context.Context, sess store.BoundSession) ([]*models.Assessment, error) {
	tx, err := sessionTx(sess)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, organization_id, title, instrument, status, created_by, created_at, updated_at
		FROM assessments
		ORDER BY created_at DESC
	`

	rows, err := tx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var assessments []*models.Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		if err := checkTenant(sess, a.OrganizationID); err != nil {
			return nil, err
		}
		assessments = append(assessments, a)
	}

	return assessments, rows.Err()
}

// AddResponse inserts a response to an assessment of the bound tenant. The
// row policy on assessments makes the parent invisible across tenants, so a
// foreign assessment ID fails the existence check the same way a bogus one
// does.
func (s *AssessmentStore) AddResponse(ctx context.Context, sess store.BoundSession, r *models.AssessmentResponse) error {
	tx, err := sessionTx(sess)
	if err != nil {
		return err
	}
	if err := checkTenant(sess, r.OrganizationID); err != nil {
		return err
	}

	var exists bool
	err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM assessments WHERE id = $1)`, r.AssessmentID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check assessment: %w", mapPostgresError(err))
	}
	if !exists {
		return store.ErrAssessmentNotFound
	}

	query := `
		INSERT INTO assessment_responses (
			id, organization_id, assessment_id, respondent, answers
		) VALUES (
			$1, $2, $3, $4, $5
		)
		RETURNING created_at
	`

	err = tx.QueryRow(ctx, query,
		r.ID,
		r.OrganizationID,
		r.AssessmentID,
		r.Respondent,
		r.Answers,
	).Scan(&r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add response: %w", mapPostgresError(err))
	}

	return nil
}

// CountResponses returns the number of responses visible to the bound tenant
// for one assessment.
func (s *AssessmentStore) CountResponses(ctx context.Context, sess store.BoundSession, assessmentID uuid.UUID) (int64, error) {
	tx, err := sessionTx(sess)
	if err != nil {
		return 0, err
	}

	var count int64
	err = tx.QueryRow(ctx, `SELECT count(*) FROM assessment_responses WHERE assessment_id = $1`, assessmentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count responses: %w", mapPostgresError(err))
	}

	return count, nil
}

func scanAssessment(row pgx.Row) (*models.Assessment, error) {
	var a models.Assessment
	err := row.Scan(
		&a.ID,
		&a.OrganizationID,
		&a.Title,
		&a.Instrument,
		&a.Status,
		&a.CreatedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
