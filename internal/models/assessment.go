package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AssessmentStatus is the lifecycle state of an assessment.
type AssessmentStatus string

const (
	AssessmentDraft  AssessmentStatus = "draft"
	AssessmentActive AssessmentStatus = "active"
	AssessmentClosed AssessmentStatus = "closed"
)

// Assessment is a tenant-scoped business entity: one assessment run owned by
// exactly one organization. Starting an assessment is the metered operation
// for the assessments_started metric.
type Assessment struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Title          string
	Instrument     string // e.g. "disc", "big_five"; scoring is out of scope
	Status         AssessmentStatus
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AssessmentResponse is a respondent's submission for an assessment. Answers
// are stored opaquely; scoring them is not this system's job.
type AssessmentResponse struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	AssessmentID   uuid.UUID
	Respondent     string // email
	Answers        json.RawMessage
	CreatedAt      time.Time
}
