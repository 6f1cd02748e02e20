package models

import (
	"time"

	"github.com/google/uuid"
)

// Metric is a metered usage dimension.
type Metric string

const (
	MetricAssessmentsStarted Metric = "assessments_started"
	MetricTeamMembers        Metric = "team_members"
	MetricStorageGB          Metric = "storage_gb"
	MetricAPICalls           Metric = "api_calls"
	MetricReportsGenerated   Metric = "reports_generated"
)

// LimitKind distinguishes limits that block outright from limits that may
// permit overage.
type LimitKind string

const (
	LimitHard LimitKind = "hard"
	LimitSoft LimitKind = "soft"
)

// UnlimitedLimit disables enforcement for a meter.
const UnlimitedLimit int64 = -1

// UsageMeter is one tenant's counter for one metric in one billing period.
// Availability is judged against used+reserved so concurrent reservations can
// never jointly exceed the limit. Used only ever grows within a period; a new
// period gets a fresh row and the old row becomes history.
type UsageMeter struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Metric         Metric
	PeriodStart    time.Time
	PeriodEnd      time.Time
	Used           int64
	Reserved       int64
	LimitValue     int64 // UnlimitedLimit disables the cap
	LimitKind      LimitKind
	OverageAllowed bool
	OverageUsed    int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Unlimited reports whether this meter has no cap.
func (m *UsageMeter) Unlimited() bool {
	return m.LimitValue == UnlimitedLimit
}

// Remaining returns the quota still available to reserve. Unlimited meters
// report a negative value.
func (m *UsageMeter) Remaining() int64 {
	if m.Unlimited() {
		return UnlimitedLimit
	}
	r := m.LimitValue - m.Used - m.Reserved
	if r < 0 {
		return 0
	}
	return r
}

// Reservation is a held claim against a meter. It is committed only after the
// business operation durably succeeds, released when the unit of work fails,
// and swept by a background job once expired so crashed units of work cannot
// pin quota forever.
type Reservation struct {
	ID             uuid.UUID
	MeterID        uuid.UUID
	OrganizationID uuid.UUID
	Metric         Metric
	Amount         int64
	Overage        bool // counts into overage rather than the base allowance
	CreatedAt      time.Time
	ExpiresAt      time.Time
}
