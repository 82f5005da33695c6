package subscription

import (
	"fmt"
	"strings"
)

// PlanMapping links internal plan keys to one provider's price, variant or
// product identifiers. It is built once from configuration and read-only
// afterwards.
type PlanMapping struct {
	byPlan map[PlanKey]string
	byID   map[string]PlanKey
}

// NewPlanMapping validates a plan to provider-id table and builds its inverse.
// Every key must be a known plan and no provider id may serve two plans.
func NewPlanMapping(prices map[string]string) (PlanMapping, error) {
	m := PlanMapping{
		byPlan: make(map[PlanKey]string, len(prices)),
		byID:   make(map[string]PlanKey, len(prices)),
	}
	for rawPlan, id := range prices {
		plan := PlanKey(strings.ToLower(strings.TrimSpace(rawPlan)))
		id = strings.TrimSpace(id)
		if !plan.Valid() {
			return PlanMapping{}, fmt.Errorf("%w: unknown plan %q", ErrInvalidPlanMapping, rawPlan)
		}
		if id == "" {
			return PlanMapping{}, fmt.Errorf("%w: empty id for plan %q", ErrInvalidPlanMapping, plan)
		}
		if other, ok := m.byID[id]; ok && other != plan {
			return PlanMapping{}, fmt.Errorf("%w: id %q used by %q and %q", ErrInvalidPlanMapping, id, other, plan)
		}
		m.byPlan[plan] = id
		m.byID[id] = plan
	}
	return m, nil
}

// MustPlanMapping is NewPlanMapping that panics on error. Intended for tests
// and static tables.
func MustPlanMapping(prices map[string]string) PlanMapping {
	m, err := NewPlanMapping(prices)
	if err != nil {
		panic(err)
	}
	return m
}

// PriceID returns the provider id configured for a plan.
func (m PlanMapping) PriceID(plan PlanKey) (string, bool) {
	id, ok := m.byPlan[plan]
	return id, ok
}

// Resolve maps a provider id back to an internal plan.
func (m PlanMapping) Resolve(providerID string) (PlanKey, bool) {
	plan, ok := m.byID[providerID]
	return plan, ok
}

// Len returns the number of mapped plans.
func (m PlanMapping) Len() int {
	return len(m.byPlan)
}
