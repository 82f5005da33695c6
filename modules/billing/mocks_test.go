package billing_test

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/dmitrymomot/billsync/pkg/subscription"
)

type mockProcessor struct{ mock.Mock }

func (m *mockProcessor) HandleWebhook(ctx context.Context, provider string, body []byte, header http.Header) (*subscription.WebhookOutcome, error) {
	args := m.Called(ctx, provider, body, header)
	out, _ := args.Get(0).(*subscription.WebhookOutcome)
	return out, args.Error(1)
}

type mockBilling struct{ mock.Mock }

func (m *mockBilling) StartCheckout(ctx context.Context, userID uuid.UUID, plan subscription.PlanKey, opts subscription.CheckoutOptions) (*subscription.CheckoutSession, error) {
	args := m.Called(ctx, userID, plan, opts)
	s, _ := args.Get(0).(*subscription.CheckoutSession)
	return s, args.Error(1)
}

func (m *mockBilling) PortalURL(ctx context.Context, userID uuid.UUID) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

func (m *mockBilling) Usage(ctx context.Context, userID uuid.UUID) (*subscription.UsageReport, error) {
	args := m.Called(ctx, userID)
	r, _ := args.Get(0).(*subscription.UsageReport)
	return r, args.Error(1)
}

func (m *mockBilling) Plans() []subscription.Plan {
	args := m.Called()
	p, _ := args.Get(0).([]subscription.Plan)
	return p
}

func (m *mockBilling) Sync(ctx context.Context, userID uuid.UUID) (subscription.ReconcileResult, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(subscription.ReconcileResult), args.Error(1)
}
