package subscription

import (
	_ "embed"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// FallbackLimits are granted when a plan key cannot be resolved.
// They equal the lowest paid tier: never zero, never unlimited.
var FallbackLimits = Limits{
	Analyses:             20,
	Keywords:             500,
	Competitors:          3,
	SerpTrackings:        100,
	ContentOptimizations: 10,
	Audits:               5,
}

// Plan describes a paid plan and its resource ceilings.
type Plan struct {
	Key         PlanKey `yaml:"-" json:"key"`
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description" json:"description"`
	Price       Money   `yaml:"price" json:"price"`
	Limits      Limits  `yaml:"limits" json:"limits"`
}

// Catalog is the immutable set of plans loaded at startup.
type Catalog struct {
	plans map[PlanKey]Plan
	free  Limits
}

type catalogDocument struct {
	Plans map[PlanKey]Plan `yaml:"plans"`
	Free  Limits           `yaml:"free"`
}

// DefaultCatalog parses the embedded plan catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalogYAML)
}

// MustDefaultCatalog is DefaultCatalog that panics on error.
// The embedded document is covered by tests, so failure means a broken build.
func MustDefaultCatalog() *Catalog {
	c, err := DefaultCatalog()
	if err != nil {
		panic(err)
	}
	return c
}

// ParseCatalog decodes and validates a YAML plan catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var doc catalogDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}

	c := &Catalog{plans: make(map[PlanKey]Plan, len(Plans)), free: doc.Free}
	for key, p := range doc.Plans {
		if !key.Valid() {
			return nil, fmt.Errorf("%w: unknown plan %q", ErrInvalidPlanConfiguration, key)
		}
		p.Key = key
		c.plans[key] = p
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) validate() error {
	for _, key := range Plans {
		p, ok := c.plans[key]
		if !ok {
			return fmt.Errorf("%w: plan %q is missing", ErrInvalidPlanConfiguration, key)
		}
		if p.Name == "" {
			return fmt.Errorf("%w: plan %q has no name", ErrInvalidPlanConfiguration, key)
		}
		for _, r := range Resources {
			if p.Limits.Get(r) <= 0 {
				return fmt.Errorf("%w: plan %q limit %q must be positive", ErrInvalidPlanConfiguration, key, r)
			}
		}
	}
	for _, r := range Resources {
		if c.free.Get(r) < 0 {
			return fmt.Errorf("%w: free limit %q is negative", ErrInvalidPlanConfiguration, r)
		}
	}
	return nil
}

// Plan returns a plan by key.
func (c *Catalog) Plan(key PlanKey) (Plan, error) {
	p, ok := c.plans[key]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return p, nil
}

// Plans returns every plan ordered from the lowest tier up.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, key := range Plans {
		if p, ok := c.plans[key]; ok {
			out = append(out, p)
		}
	}
	return out
}

// LimitsFor resolves a plan to its resource ceilings.
// Unknown plans get FallbackLimits.
func (c *Catalog) LimitsFor(key PlanKey) Limits {
	if c == nil {
		return FallbackLimits
	}
	if p, ok := c.plans[key]; ok {
		return p.Limits
	}
	return FallbackLimits
}

// FreeLimits returns the ceilings applied to users without a subscription.
func (c *Catalog) FreeLimits() Limits {
	return c.free
}

// PlanComparison lists resources whose ceilings change between two plans.
type PlanComparison struct {
	Increased []Resource
	Decreased []Resource
}

// IsDowngrade reports whether any ceiling goes down.
func (c PlanComparison) IsDowngrade() bool {
	return len(c.Decreased) > 0
}

// ComparePlans returns the differences between current and target limits.
func ComparePlans(current, target Limits) PlanComparison {
	var cmp PlanComparison
	for _, r := range Resources {
		from, to := current.Get(r), target.Get(r)
		switch {
		case to > from:
			cmp.Increased = append(cmp.Increased, r)
		case to < from:
			cmp.Decreased = append(cmp.Decreased, r)
		}
	}
	return cmp
}
