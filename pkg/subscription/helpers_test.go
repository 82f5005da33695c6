package subscription_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billsync/pkg/subscription"
)

type mockProvider struct {
	mock.Mock
	kind    subscription.ProviderKind
	mapping subscription.PlanMapping
}

func newMockProvider(kind subscription.ProviderKind, prices map[string]string) *mockProvider {
	return &mockProvider{kind: kind, mapping: subscription.MustPlanMapping(prices)}
}

func (m *mockProvider) Kind() subscription.ProviderKind   { return m.kind }
func (m *mockProvider) Mapping() subscription.PlanMapping { return m.mapping }

func (m *mockProvider) VerifySignature(body []byte, h http.Header) bool {
	args := m.Called(body, h)
	return args.Bool(0)
}

func (m *mockProvider) NormalizeEvent(body []byte, h http.Header) (*subscription.ProviderEvent, error) {
	args := m.Called(body, h)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.ProviderEvent), args.Error(1)
}

func (m *mockProvider) CreateCustomer(ctx context.Context, req subscription.CustomerRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) CreateCheckout(ctx context.Context, req subscription.CheckoutRequest) (*subscription.CheckoutSession, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.CheckoutSession), args.Error(1)
}

func (m *mockProvider) FetchSubscription(ctx context.Context, id string) (*subscription.ProviderSubscription, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.ProviderSubscription), args.Error(1)
}

func (m *mockProvider) PortalURL(ctx context.Context, customerID, subscriptionID string) (string, error) {
	args := m.Called(ctx, customerID, subscriptionID)
	return args.String(0), args.Error(1)
}

// customPricingProvider adds custom price support to the mock.
type customPricingProvider struct {
	*mockProvider
}

func (customPricingProvider) SupportsCustomPrice() bool { return true }

var testPrices = map[subscription.ProviderKind]map[string]string{
	subscription.ProviderStripe:       {"basic": "price_basic", "pro": "price_pro", "agency": "price_agency"},
	subscription.ProviderLemonSqueezy: {"basic": "variant-basic", "pro": "variant-pro", "agency": "variant-agency"},
	subscription.ProviderDodo:         {"basic": "pdt_basic", "pro": "pdt_pro", "agency": "pdt_agency"},
	subscription.ProviderPaddle:       {"basic": "pri_basic", "pro": "pri_pro", "agency": "pri_agency"},
}

func testMappings() map[subscription.ProviderKind]subscription.PlanMapping {
	out := make(map[subscription.ProviderKind]subscription.PlanMapping, len(testPrices))
	for k, v := range testPrices {
		out[k] = subscription.MustPlanMapping(v)
	}
	return out
}

type fixture struct {
	repo    *subscription.MemoryRepository
	catalog *subscription.Catalog
	engine  *subscription.Engine
	userID  uuid.UUID
}

// newFixture creates a repository with one user who is a customer of every provider.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := subscription.NewMemoryRepository()
	userID := uuid.New()
	require.NoError(t, repo.AddUser(subscription.User{
		ID:    userID,
		Email: "user@example.com",
		CustomerIDs: map[subscription.ProviderKind]string{
			subscription.ProviderStripe:       "cus_A",
			subscription.ProviderLemonSqueezy: "1001",
			subscription.ProviderDodo:         "cus_dodo",
			subscription.ProviderPaddle:       "ctm_1",
		},
	}))
	catalog := subscription.MustDefaultCatalog()
	return &fixture{
		repo:    repo,
		catalog: catalog,
		engine:  subscription.NewEngine(repo, catalog, testMappings()),
		userID:  userID,
	}
}

func (f *fixture) subscription(t *testing.T) *subscription.Subscription {
	t.Helper()
	sub, err := f.repo.SubscriptionByUserID(context.Background(), f.userID)
	require.NoError(t, err)
	return sub
}

var (
	t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 = t0.AddDate(0, 1, 0)
	t2 = t0.AddDate(0, 2, 0)
)

func lsEvent(kind subscription.EventKind, subID, plan string, end time.Time) *subscription.ProviderEvent {
	return &subscription.ProviderEvent{
		Provider:       subscription.ProviderLemonSqueezy,
		Kind:           kind,
		CustomerID:     "1001",
		SubscriptionID: subID,
		PlanKey:        plan,
		PeriodEnd:      end,
		RawStatus:      "active",
	}
}
