package subscription_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billsync/pkg/subscription"
)

// racingCustomers hands out a fresh customer id on every call, like a
// provider that receives concurrent create requests.
type racingCustomers struct {
	*mockProvider
	created atomic.Int32
}

func (p *racingCustomers) CreateCustomer(context.Context, subscription.CustomerRequest) (string, error) {
	return fmt.Sprintf("cus_%d", p.created.Add(1)), nil
}

func newCheckoutUser(t *testing.T, repo *subscription.MemoryRepository) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, repo.AddUser(subscription.User{ID: id, Email: "buyer@example.com", Name: "Buyer"}))
	return id
}

func TestCheckoutInitiator_PersistsCustomerBeforeCheckout(t *testing.T) {
	t.Parallel()

	repo := subscription.NewMemoryRepository()
	userID := newCheckoutUser(t, repo)
	ctx := context.Background()

	stripe := newMockProvider(subscription.ProviderStripe, testPrices[subscription.ProviderStripe])
	stripe.On("CreateCustomer", mock.Anything, subscription.CustomerRequest{
		UserID: userID.String(),
		Email:  "buyer@example.com",
		Name:   "Buyer",
	}).Return("cus_new", nil).Once()
	stripe.On("CreateCheckout", mock.Anything, mock.MatchedBy(func(req subscription.CheckoutRequest) bool {
		// The customer must already be stored when the checkout is created.
		u, err := repo.UserByID(ctx, userID)
		return err == nil &&
			u.CustomerID(subscription.ProviderStripe) == "cus_new" &&
			req.CustomerID == "cus_new" &&
			req.PriceID == "price_pro" &&
			req.SuccessURL == "https://app.example.com/billing?ok=1" &&
			req.CancelURL == "https://app.example.com/pricing" &&
			req.Metadata[subscription.MetadataUserIDKey] == userID.String() &&
			req.Metadata[subscription.MetadataPlanKey] == "pro"
	})).Return(&subscription.CheckoutSession{URL: "https://checkout.stripe.com/c/1", SessionID: "cs_1"}, nil)

	initiator := subscription.NewCheckoutInitiator(repo, subscription.NewRegistry(stripe),
		subscription.WithReturnURLs("https://app.example.com/billing?ok=1", "https://app.example.com/pricing"))

	// A retried request reuses the stored customer.
	for range 2 {
		session, err := initiator.Start(ctx, userID, subscription.PlanPro, subscription.CheckoutOptions{})
		require.NoError(t, err)
		assert.Equal(t, "https://checkout.stripe.com/c/1", session.URL)
		assert.Equal(t, "cs_1", session.SessionID)
	}

	stripe.AssertNumberOfCalls(t, "CreateCustomer", 1)
	stripe.AssertNumberOfCalls(t, "CreateCheckout", 2)
}

func TestCheckoutInitiator_ConcurrentRequestsShareOneCustomer(t *testing.T) {
	t.Parallel()

	repo := subscription.NewMemoryRepository()
	userID := newCheckoutUser(t, repo)
	ctx := context.Background()

	provider := &racingCustomers{mockProvider: newMockProvider(subscription.ProviderDodo, testPrices[subscription.ProviderDodo])}

	var mu sync.Mutex
	used := make(map[string]int)
	provider.On("CreateCheckout", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			mu.Lock()
			defer mu.Unlock()
			used[args.Get(1).(subscription.CheckoutRequest).CustomerID]++
		}).
		Return(&subscription.CheckoutSession{URL: "https://checkout.dodopayments.com/s/1"}, nil)

	initiator := subscription.NewCheckoutInitiator(repo, subscription.NewRegistry(provider),
		subscription.WithDefaultProvider(subscription.ProviderDodo))

	const n = 10
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := initiator.Start(ctx, userID, subscription.PlanBasic, subscription.CheckoutOptions{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	u, err := repo.UserByID(ctx, userID)
	require.NoError(t, err)
	stored := u.CustomerID(subscription.ProviderDodo)
	require.NotEmpty(t, stored)
	assert.Equal(t, map[string]int{stored: n}, used)

	owner, err := repo.UserByCustomerID(ctx, subscription.ProviderDodo, stored)
	require.NoError(t, err)
	assert.Equal(t, userID, owner.ID)
}

func TestCheckoutInitiator_CustomPrice(t *testing.T) {
	t.Parallel()

	repo := subscription.NewMemoryRepository()
	userID := newCheckoutUser(t, repo)
	ctx := context.Background()
	price := int64(4900)

	t.Run("supported", func(t *testing.T) {
		t.Parallel()

		ls := customPricingProvider{newMockProvider(subscription.ProviderLemonSqueezy, testPrices[subscription.ProviderLemonSqueezy])}
		ls.On("CreateCustomer", mock.Anything, mock.Anything).Return("1001", nil)
		ls.On("CreateCheckout", mock.Anything, mock.MatchedBy(func(req subscription.CheckoutRequest) bool {
			return req.CustomPrice != nil && *req.CustomPrice == price && req.PriceID == "variant-agency"
		})).Return(&subscription.CheckoutSession{URL: "https://store.lemonsqueezy.com/checkout/1"}, nil)

		initiator := subscription.NewCheckoutInitiator(repo, subscription.NewRegistry(ls))
		session, err := initiator.Start(ctx, userID, subscription.PlanAgency, subscription.CheckoutOptions{
			Provider:    subscription.ProviderLemonSqueezy,
			CustomPrice: &price,
		})
		require.NoError(t, err)
		assert.Equal(t, "https://store.lemonsqueezy.com/checkout/1", session.URL)
	})

	t.Run("unsupported", func(t *testing.T) {
		t.Parallel()

		stripe := newMockProvider(subscription.ProviderStripe, testPrices[subscription.ProviderStripe])
		initiator := subscription.NewCheckoutInitiator(repo, subscription.NewRegistry(stripe))
		_, err := initiator.Start(ctx, userID, subscription.PlanPro, subscription.CheckoutOptions{CustomPrice: &price})
		assert.ErrorIs(t, err, subscription.ErrCustomPriceUnsupported)
		stripe.AssertNotCalled(t, "CreateCustomer", mock.Anything, mock.Anything)
	})

	t.Run("not positive", func(t *testing.T) {
		t.Parallel()

		ls := customPricingProvider{newMockProvider(subscription.ProviderLemonSqueezy, testPrices[subscription.ProviderLemonSqueezy])}
		initiator := subscription.NewCheckoutInitiator(repo, subscription.NewRegistry(ls))
		zero := int64(0)
		_, err := initiator.Start(ctx, userID, subscription.PlanPro, subscription.CheckoutOptions{
			Provider:    subscription.ProviderLemonSqueezy,
			CustomPrice: &zero,
		})
		assert.ErrorIs(t, err, subscription.ErrCustomPriceUnsupported)
	})
}

func TestCheckoutInitiator_Errors(t *testing.T) {
	t.Parallel()

	repo := subscription.NewMemoryRepository()
	userID := newCheckoutUser(t, repo)
	ctx := context.Background()

	partial := newMockProvider(subscription.ProviderPaddle, map[string]string{"basic": "pri_basic"})
	failing := newMockProvider(subscription.ProviderStripe, testPrices[subscription.ProviderStripe])
	failing.On("CreateCustomer", mock.Anything, mock.Anything).Return("cus_F", nil)
	failing.On("CreateCheckout", mock.Anything, mock.Anything).Return(nil, errors.New("card_declined"))

	initiator := subscription.NewCheckoutInitiator(repo, subscription.NewRegistry(partial, failing))

	tests := []struct {
		name    string
		userID  uuid.UUID
		plan    subscription.PlanKey
		opts    subscription.CheckoutOptions
		wantErr error
	}{
		{"unknown plan", userID, "enterprise", subscription.CheckoutOptions{}, subscription.ErrPlanNotFound},
		{"unknown provider", userID, subscription.PlanPro, subscription.CheckoutOptions{Provider: "paypal"}, subscription.ErrUnknownProvider},
		{"disabled provider", userID, subscription.PlanPro, subscription.CheckoutOptions{Provider: subscription.ProviderDodo}, subscription.ErrProviderDisabled},
		{"unpriced plan", userID, subscription.PlanAgency, subscription.CheckoutOptions{Provider: subscription.ProviderPaddle}, subscription.ErrMissingPriceID},
		{"unknown user", uuid.New(), subscription.PlanPro, subscription.CheckoutOptions{}, subscription.ErrUserNotFound},
		{"provider failure", userID, subscription.PlanPro, subscription.CheckoutOptions{}, subscription.ErrProviderRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := initiator.Start(ctx, tt.userID, tt.plan, tt.opts)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCheckoutInitiator_KeepsCustomerWhenCheckoutFails(t *testing.T) {
	t.Parallel()

	repo := subscription.NewMemoryRepository()
	userID := newCheckoutUser(t, repo)
	ctx := context.Background()

	stripe := newMockProvider(subscription.ProviderStripe, testPrices[subscription.ProviderStripe])
	stripe.On("CreateCustomer", mock.Anything, mock.Anything).Return("cus_kept", nil).Once()
	stripe.On("CreateCheckout", mock.Anything, mock.Anything).Return(nil, errors.New("timeout")).Once()
	stripe.On("CreateCheckout", mock.Anything, mock.Anything).Return(&subscription.CheckoutSession{URL: "https://checkout.stripe.com/c/2"}, nil).Once()

	initiator := subscription.NewCheckoutInitiator(repo, subscription.NewRegistry(stripe))

	_, err := initiator.Start(ctx, userID, subscription.PlanBasic, subscription.CheckoutOptions{})
	require.ErrorIs(t, err, subscription.ErrProviderRequest)

	u, err := repo.UserByID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "cus_kept", u.CustomerID(subscription.ProviderStripe))

	session, err := initiator.Start(ctx, userID, subscription.PlanBasic, subscription.CheckoutOptions{})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/c/2", session.URL)
	stripe.AssertExpectations(t)
}
