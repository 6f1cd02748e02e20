package models

import (
	"time"

	"github.com/google/uuid"
)

// PlanCode identifies a subscription plan in the limit catalog.
type PlanCode string

const (
	PlanBasic        PlanCode = "basic"
	PlanProfessional PlanCode = "professional"
	PlanEnterprise   PlanCode = "enterprise"
	PlanCustom       PlanCode = "custom"
)

// BillingInterval is the length of one billing period.
type BillingInterval string

const (
	IntervalMonthly   BillingInterval = "monthly"
	IntervalQuarterly BillingInterval = "quarterly"
	IntervalYearly    BillingInterval = "yearly"
)

// Months returns the number of calendar months in one period.
func (i BillingInterval) Months() int {
	switch i {
	case IntervalQuarterly:
		return 3
	case IntervalYearly:
		return 12
	default:
		return 1
	}
}

// SubscriptionStatus mirrors the payment provider's lifecycle states.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionTrialing  SubscriptionStatus = "trialing"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionUnpaid    SubscriptionStatus = "unpaid"
	SubscriptionPaused    SubscriptionStatus = "paused"
)

// Subscription carries a tenant's plan and the billing-period anchor that
// drives usage-meter period math. Period boundaries come from the payment
// provider, not from wall-clock month boundaries.
type Subscription struct {
	ID                 uuid.UUID
	OrganizationID     uuid.UUID
	Plan               PlanCode
	Status             SubscriptionStatus
	Interval           BillingInterval
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Usable reports whether metered operations may proceed under this
// subscription. Past-due tenants keep access during the dunning window;
// cancelled, unpaid, and paused tenants do not.
func (s *Subscription) Usable() bool {
	switch s.Status {
	case SubscriptionActive, SubscriptionTrialing, SubscriptionPastDue:
		return true
	default:
		return false
	}
}
