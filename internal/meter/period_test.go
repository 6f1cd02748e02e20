package meter

import (
	"strings"
	"testing"
	"time"

	"github.com/avaliahq/tenancy/internal/models"
	"github.com/stretchr/testify/require"
)

func TestPeriodFor(t *testing.T) {
	anchor := time.Date(2026, 5, 17, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name      string
		interval  models.BillingInterval
		now       time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "inside anchored month",
			interval:  models.IntervalMonthly,
			now:       time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
			wantStart: anchor,
			wantEnd:   time.Date(2026, 6, 17, 9, 30, 0, 0, time.UTC),
		},
		{
			name:      "one unapplied renewal",
			interval:  models.IntervalMonthly,
			now:       time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2026, 6, 17, 9, 30, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 7, 17, 9, 30, 0, 0, time.UTC),
		},
		{
			name:      "several unapplied renewals",
			interval:  models.IntervalMonthly,
			now:       time.Date(2026, 11, 20, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2026, 11, 17, 9, 30, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 12, 17, 9, 30, 0, 0, time.UTC),
		},
		{
			name:      "exactly on a boundary starts the next period",
			interval:  models.IntervalMonthly,
			now:       time.Date(2026, 6, 17, 9, 30, 0, 0, time.UTC),
			wantStart: time.Date(2026, 6, 17, 9, 30, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 7, 17, 9, 30, 0, 0, time.UTC),
		},
		{
			name:      "quarterly interval",
			interval:  models.IntervalQuarterly,
			now:       time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
			wantStart: anchor,
			wantEnd:   time.Date(2026, 8, 17, 9, 30, 0, 0, time.UTC),
		},
		{
			name:      "yearly interval",
			interval:  models.IntervalYearly,
			now:       time.Date(2027, 2, 1, 0, 0, 0, 0, time.UTC),
			wantStart: anchor,
			wantEnd:   time.Date(2027, 5, 17, 9, 30, 0, 0, time.UTC),
		},
		{
			name:      "clock before anchor stays in anchored period",
			interval:  models.IntervalMonthly,
			now:       anchor.Add(-time.Hour),
			wantStart: anchor,
			wantEnd:   time.Date(2026, 6, 17, 9, 30, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &models.Subscription{
				Interval:           tt.interval,
				CurrentPeriodStart: anchor,
			}

			period := PeriodFor(sub, tt.now)
			require.Equal(t, tt.wantStart, period.Start)
			require.Equal(t, tt.wantEnd, period.End)
		})
	}
}

func TestCatalogValidate(t *testing.T) {
	require.NoError(t, DefaultCatalog().Validate())

	t.Run("unknown plan rejected", func(t *testing.T) {
		c := &Catalog{Plans: map[models.PlanCode]map[models.Metric]LimitSpec{
			"platinum": {},
		}}
		require.Error(t, c.Validate())
	})

	t.Run("unknown limit kind rejected", func(t *testing.T) {
		c := &Catalog{Plans: map[models.PlanCode]map[models.Metric]LimitSpec{
			models.PlanBasic: {
				models.MetricAPICalls: {Limit: 10, Kind: "fuzzy"},
			},
		}}
		require.Error(t, c.Validate())
	})
}

func TestLoadCatalog(t *testing.T) {
	doc := `
plans:
  basic:
    assessments_started:
      limit: 10
      kind: hard
    team_members:
      limit: 5
      kind: hard
  professional:
    assessments_started:
      limit: 100
      kind: soft
      overage_allowed: true
`
	c, err := LoadCatalog(strings.NewReader(doc))
	require.NoError(t, err)

	spec := c.LimitFor(models.PlanBasic, models.MetricAssessmentsStarted)
	require.EqualValues(t, 10, spec.Limit)
	require.Equal(t, models.LimitHard, spec.Kind)

	spec = c.LimitFor(models.PlanProfessional, models.MetricAssessmentsStarted)
	require.True(t, spec.OverageAllowed)

	// Metrics the catalog does not name are unlimited.
	spec = c.LimitFor(models.PlanBasic, models.MetricAPICalls)
	require.Equal(t, models.UnlimitedLimit, spec.Limit)
}
