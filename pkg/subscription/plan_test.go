package subscription_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billsync/pkg/subscription"
)

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()

	catalog, err := subscription.DefaultCatalog()
	require.NoError(t, err)

	plans := catalog.Plans()
	require.Len(t, plans, 3)
	assert.Equal(t, subscription.PlanBasic, plans[0].Key)
	assert.Equal(t, subscription.PlanPro, plans[1].Key)
	assert.Equal(t, subscription.PlanAgency, plans[2].Key)

	for _, p := range plans {
		assert.NotEmpty(t, p.Name)
		assert.Positive(t, p.Price.Amount)
		for _, r := range subscription.Resources {
			assert.Positive(t, p.Limits.Get(r), "%s/%s", p.Key, r)
		}
	}

	// Higher tiers never grant less.
	assert.False(t, subscription.ComparePlans(plans[0].Limits, plans[1].Limits).IsDowngrade())
	assert.False(t, subscription.ComparePlans(plans[1].Limits, plans[2].Limits).IsDowngrade())
}

func TestCatalogLimitsFor(t *testing.T) {
	t.Parallel()

	catalog := subscription.MustDefaultCatalog()

	basic, err := catalog.Plan(subscription.PlanBasic)
	require.NoError(t, err)
	assert.Equal(t, basic.Limits, catalog.LimitsFor(subscription.PlanBasic))
	assert.Equal(t, basic.Limits, subscription.FallbackLimits)

	t.Run("unknown plan falls back", func(t *testing.T) {
		t.Parallel()
		limits := catalog.LimitsFor("enterprise")
		assert.Equal(t, subscription.FallbackLimits, limits)
		for _, r := range subscription.Resources {
			assert.Positive(t, limits.Get(r))
		}
	})

	t.Run("nil catalog falls back", func(t *testing.T) {
		t.Parallel()
		var c *subscription.Catalog
		assert.Equal(t, subscription.FallbackLimits, c.LimitsFor(subscription.PlanPro))
	})

	t.Run("plan not found", func(t *testing.T) {
		t.Parallel()
		_, err := catalog.Plan("enterprise")
		assert.ErrorIs(t, err, subscription.ErrPlanNotFound)
	})
}

func TestCatalogFreeLimits(t *testing.T) {
	t.Parallel()

	free := subscription.MustDefaultCatalog().FreeLimits()
	assert.Equal(t, int64(3), free.Analyses)
	assert.Equal(t, int64(0), free.Audits)
}

func TestParseCatalog(t *testing.T) {
	t.Parallel()

	valid := `
plans:
  basic:
    name: Basic
    limits: {analyses: 1, keywords: 1, competitors: 1, serp_trackings: 1, content_optimizations: 1, audits: 1}
  pro:
    name: Pro
    limits: {analyses: 2, keywords: 2, competitors: 2, serp_trackings: 2, content_optimizations: 2, audits: 2}
  agency:
    name: Agency
    limits: {analyses: 3, keywords: 3, competitors: 3, serp_trackings: 3, content_optimizations: 3, audits: 3}
`

	tests := []struct {
		name    string
		doc     string
		wantErr error
	}{
		{name: "valid", doc: valid},
		{name: "malformed yaml", doc: "plans: [", wantErr: subscription.ErrFailedToLoadPlans},
		{
			name: "missing plan",
			doc: `
plans:
  basic:
    name: Basic
    limits: {analyses: 1, keywords: 1, competitors: 1, serp_trackings: 1, content_optimizations: 1, audits: 1}
`,
			wantErr: subscription.ErrInvalidPlanConfiguration,
		},
		{
			name:    "unknown plan",
			doc:     valid + "  enterprise:\n    name: Enterprise\n",
			wantErr: subscription.ErrInvalidPlanConfiguration,
		},
		{
			name: "zero limit",
			doc: `
plans:
  basic:
    name: Basic
    limits: {analyses: 0, keywords: 1, competitors: 1, serp_trackings: 1, content_optimizations: 1, audits: 1}
  pro:
    name: Pro
    limits: {analyses: 2, keywords: 2, competitors: 2, serp_trackings: 2, content_optimizations: 2, audits: 2}
  agency:
    name: Agency
    limits: {analyses: 3, keywords: 3, competitors: 3, serp_trackings: 3, content_optimizations: 3, audits: 3}
`,
			wantErr: subscription.ErrInvalidPlanConfiguration,
		},
		{
			name:    "negative free limit",
			doc:     valid + "free: {analyses: -1}\n",
			wantErr: subscription.ErrInvalidPlanConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, err := subscription.ParseCatalog([]byte(tt.doc))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, c)
				return
			}
			require.NoError(t, err)
			assert.Len(t, c.Plans(), 3)
		})
	}
}

func TestComparePlans(t *testing.T) {
	t.Parallel()

	catalog := subscription.MustDefaultCatalog()
	pro := catalog.LimitsFor(subscription.PlanPro)
	basic := catalog.LimitsFor(subscription.PlanBasic)

	down := subscription.ComparePlans(pro, basic)
	assert.True(t, down.IsDowngrade())
	assert.ElementsMatch(t, subscription.Resources, down.Decreased)
	assert.Empty(t, down.Increased)

	same := subscription.ComparePlans(pro, pro)
	assert.False(t, same.IsDowngrade())
	assert.Empty(t, same.Increased)
}
