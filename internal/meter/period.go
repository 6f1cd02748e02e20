package meter

import (
	"time"

	"github.com/avaliahq/tenancy/internal/models"
)

// Period is one billing period's boundaries: [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// PeriodFor computes the billing period containing now, anchored at the
// subscription's current_period_start and stepped by its interval. The
// anchor comes from the payment provider, so a tenant billed on the 17th
// meters on the 17th; wall-clock month boundaries play no part.
//
// The subscription row usually already holds the containing period, but
// after a missed renewal webhook now can run past current_period_end; the
// meter must not stall on a stale anchor, so the period is derived, not
// trusted.
func PeriodFor(sub *models.Subscription, now time.Time) Period {
	months := sub.Interval.Months()
	start := sub.CurrentPeriodStart
	end := start.AddDate(0, months, 0)

	// Step forward past renewals the billing feed has not applied yet. A
	// now before the anchor (clock skew) stays in the anchored period.
	for !now.Before(end) {
		start = end
		end = start.AddDate(0, months, 0)
	}

	return Period{Start: start, End: end}
}
