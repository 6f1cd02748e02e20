// Package meter enforces per-tenant usage limits. It owns the plan-limit
// catalog, billing-period math, and the reserve/commit/release protocol that
// is the only way usage counters move.
package meter

import (
	"fmt"
	"io"
	"os"

	"github.com/avaliahq/tenancy/internal/models"
	"gopkg.in/yaml.v3"
)

// LimitSpec is one metric's limit under a plan.
type LimitSpec struct {
	Limit          int64            `yaml:"limit"` // -1 = unlimited
	Kind           models.LimitKind `yaml:"kind"`
	OverageAllowed bool             `yaml:"overage_allowed"`
}

// Catalog maps plans to their metric limits. Loaded once at startup;
// read-only afterwards.
type Catalog struct {
	Plans map[models.PlanCode]map[models.Metric]LimitSpec `yaml:"plans"`
}

// Limits returns the limit table for a plan. Metrics absent from the plan
// are unlimited: the catalog names what is capped, not what exists.
func (c *Catalog) Limits(plan models.PlanCode) map[models.Metric]LimitSpec {
	return c.Plans[plan]
}

// LimitFor returns the limit spec for one plan/metric pair.
func (c *Catalog) LimitFor(plan models.PlanCode, metric models.Metric) LimitSpec {
	if spec, ok := c.Plans[plan][metric]; ok {
		return spec
	}
	return LimitSpec{Limit: models.UnlimitedLimit, Kind: models.LimitHard}
}

// Validate checks plan codes, limit kinds, and limit values.
func (c *Catalog) Validate() error {
	if len(c.Plans) == 0 {
		return fmt.Errorf("catalog defines no plans")
	}

	for plan, limits := range c.Plans {
		switch plan {
		case models.PlanBasic, models.PlanProfessional, models.PlanEnterprise, models.PlanCustom:
		default:
			return fmt.Errorf("unknown plan %q", plan)
		}

		for metric, spec := range limits {
			if spec.Kind != models.LimitHard && spec.Kind != models.LimitSoft {
				return fmt.Errorf("plan %s metric %s: unknown limit kind %q", plan, metric, spec.Kind)
			}
			if spec.Limit < models.UnlimitedLimit {
				return fmt.Errorf("plan %s metric %s: invalid limit %d", plan, metric, spec.Limit)
			}
		}
	}

	return nil
}

// LoadCatalog reads a YAML catalog.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	return &c, nil
}

// LoadCatalogFile reads a YAML catalog from disk.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()

	return LoadCatalog(f)
}

// DefaultCatalog is the built-in limit table used when no catalog file is
// configured.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Plans: map[models.PlanCode]map[models.Metric]LimitSpec{
			models.PlanBasic: {
				models.MetricAssessmentsStarted: {Limit: 10, Kind: models.LimitHard},
				models.MetricTeamMembers:        {Limit: 5, Kind: models.LimitHard},
				models.MetricStorageGB:          {Limit: 1, Kind: models.LimitHard},
			},
			models.PlanProfessional: {
				models.MetricAssessmentsStarted: {Limit: 100, Kind: models.LimitSoft, OverageAllowed: true},
				models.MetricTeamMembers:        {Limit: 25, Kind: models.LimitHard},
				models.MetricStorageGB:          {Limit: 20, Kind: models.LimitSoft},
			},
			models.PlanEnterprise: {
				models.MetricAssessmentsStarted: {Limit: models.UnlimitedLimit, Kind: models.LimitHard},
				models.MetricTeamMembers:        {Limit: models.UnlimitedLimit, Kind: models.LimitHard},
				models.MetricStorageGB:          {Limit: 500, Kind: models.LimitSoft, OverageAllowed: true},
			},
			models.PlanCustom: {
				models.MetricAssessmentsStarted: {Limit: models.UnlimitedLimit, Kind: models.LimitHard},
				models.MetricTeamMembers:        {Limit: models.UnlimitedLimit, Kind: models.LimitHard},
				models.MetricStorageGB:          {Limit: models.UnlimitedLimit, Kind: models.LimitHard},
			},
		},
	}
}
