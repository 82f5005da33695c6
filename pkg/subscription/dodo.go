package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dodopayments/dodopayments-go"
	"github.com/dodopayments/dodopayments-go/option"

	"github.com/dmitrymomot/billsync/pkg/webhook"
)

// DodoConfig holds configuration for the Dodo Payments provider.
type DodoConfig struct {
	APIKey        string            `env:"API_KEY"`
	WebhookSecret string            `env:"WEBHOOK_SECRET"`
	Environment   string            `env:"ENVIRONMENT" envDefault:"live"`
	PlanPrices    map[string]string `env:"PLAN_PRICES"` // plan:product_id
	BaseURL       string            `env:"BASE_URL"`
}

// Enabled reports whether the provider has credentials.
func (c DodoConfig) Enabled() bool { return c.APIKey != "" }

// DodoProvider implements Provider for Dodo Payments. Webhooks follow the
// Standard Webhooks scheme and are verified locally.
type DodoProvider struct {
	client  *dodopayments.Client
	secret  string
	mapping PlanMapping
	now     func() time.Time
}

// NewDodoProvider creates a new Dodo Payments provider.
func NewDodoProvider(cfg DodoConfig) (*DodoProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	opts := []option.RequestOption{option.WithBearerToken(cfg.APIKey)}
	switch strings.ToLower(cfg.Environment) {
	case "test", "test_mode", "sandbox":
		opts = append(opts, option.WithEnvironmentTestMode())
	case "live", "live_mode", "production", "":
		opts = append(opts, option.WithEnvironmentLiveMode())
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidEnvironment, cfg.Environment)
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	mapping, err := NewPlanMapping(cfg.PlanPrices)
	if err != nil {
		return nil, err
	}

	return &DodoProvider{
		client:  dodopayments.NewClient(opts...),
		secret:  cfg.WebhookSecret,
		mapping: mapping,
		now:     time.Now,
	}, nil
}

func (p *DodoProvider) Kind() ProviderKind   { return ProviderDodo }
func (p *DodoProvider) Mapping() PlanMapping { return p.mapping }

func (p *DodoProvider) VerifySignature(body []byte, header http.Header) bool {
	return webhook.VerifyStandard(p.secret, body, header, webhook.DefaultTolerance, p.now()) == nil
}

type dodoEvent struct {
	Type string `json:"type"`
	Data struct {
		SubscriptionID  string            `json:"subscription_id"`
		PaymentID       string            `json:"payment_id"`
		ProductID       string            `json:"product_id"`
		Status          string            `json:"status"`
		NextBillingDate *time.Time        `json:"next_billing_date"`
		Metadata        map[string]string `json:"metadata"`
		Customer        struct {
			CustomerID string `json:"customer_id"`
		} `json:"customer"`
	} `json:"data"`
}

var dodoEventKinds = map[string]EventKind{
	"subscription.active":       EventSubscriptionCreated,
	"subscription.updated":      EventSubscriptionUpdated,
	"subscription.plan_changed": EventSubscriptionUpdated,
	"subscription.renewed":      EventSubscriptionUpdated,
	"subscription.on_hold":      EventSubscriptionUpdated,
	"subscription.cancelled":    EventSubscriptionCanceled,
	"subscription.expired":      EventSubscriptionCanceled,
	"payment.succeeded":         EventPaymentSucceeded,
}

func (p *DodoProvider) NormalizeEvent(body []byte, header http.Header) (*ProviderEvent, error) {
	var raw dodoEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNormalization, err)
	}
	if raw.Type == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrNormalization)
	}

	ev := &ProviderEvent{
		Provider:          ProviderDodo,
		Kind:              EventIgnored,
		EventID:           header.Get(webhook.HeaderID),
		ProviderEventType: raw.Type,
	}
	kind, ok := dodoEventKinds[raw.Type]
	if !ok {
		return ev, nil
	}
	// Payments outside a subscription (one-off purchases) carry nothing to reconcile.
	if kind == EventPaymentSucceeded && raw.Data.SubscriptionID == "" {
		return ev, nil
	}

	ev.Kind = kind
	ev.CustomerID = raw.Data.Customer.CustomerID
	ev.SubscriptionID = raw.Data.SubscriptionID
	ev.PlanKey = raw.Data.ProductID
	ev.RawStatus = raw.Data.Status
	ev.Metadata = raw.Data.Metadata
	if raw.Type == "subscription.on_hold" && ev.RawStatus == "" {
		ev.RawStatus = "on_hold"
	}
	if kind == EventPaymentSucceeded {
		// Payment objects have their own status vocabulary.
		ev.RawStatus = ""
	}
	if raw.Data.NextBillingDate != nil {
		ev.PeriodEnd = raw.Data.NextBillingDate.UTC()
	}
	if ev.CustomerID == "" {
		return nil, fmt.Errorf("%w: dodo %s without customer id", ErrNormalization, raw.Type)
	}
	return ev, nil
}

func (p *DodoProvider) CreateCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	name := req.Name
	if name == "" {
		name = req.Email
	}
	customer, err := p.client.Customers.New(ctx, dodopayments.CustomerNewParams{
		Email: dodopayments.F(req.Email),
		Name:  dodopayments.F(name),
		Metadata: dodopayments.F(map[string]string{
			MetadataUserIDKey: req.UserID,
		}),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create dodo customer: %w", err)
	}
	return customer.CustomerID, nil
}

func (p *DodoProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.PriceID == "" {
		return nil, ErrMissingPriceID
	}
	if req.CustomerID == "" {
		return nil, ErrMissingCustomerID
	}

	params := dodopayments.CheckoutSessionRequestParam{
		ProductCart: dodopayments.F([]dodopayments.CheckoutSessionRequestProductCartParam{{
			ProductID: dodopayments.F(req.PriceID),
			Quantity:  dodopayments.F(int64(1)),
		}}),
		Customer: dodopayments.F[dodopayments.CustomerRequestUnionParam](dodopayments.AttachExistingCustomerParam{
			CustomerID: dodopayments.F(req.CustomerID),
		}),
		Metadata: dodopayments.F(req.Metadata),
	}
	if req.SuccessURL != "" {
		params.ReturnURL = dodopayments.F(req.SuccessURL)
	}

	session, err := p.client.CheckoutSessions.New(ctx, dodopayments.CheckoutSessionNewParams{
		CheckoutSessionRequest: params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create dodo checkout session: %w", err)
	}
	if session.CheckoutURL == "" {
		return nil, ErrNoCheckoutURL
	}
	return &CheckoutSession{URL: session.CheckoutURL, SessionID: session.SessionID}, nil
}

func (p *DodoProvider) FetchSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	if subscriptionID == "" {
		return nil, ErrMissingSubscriptionID
	}
	sub, err := p.client.Subscriptions.Get(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch dodo subscription: %w", err)
	}
	return &ProviderSubscription{
		ID:         sub.SubscriptionID,
		CustomerID: sub.Customer.CustomerID,
		PriceID:    sub.ProductID,
		Status:     string(sub.Status),
		PeriodEnd:  sub.NextBillingDate.UTC(),
		Metadata:   sub.Metadata,
	}, nil
}

func (p *DodoProvider) PortalURL(ctx context.Context, customerID, _ string) (string, error) {
	if customerID == "" {
		return "", ErrMissingCustomerID
	}
	session, err := p.client.Customers.CustomerPortal.New(ctx, customerID, dodopayments.CustomerCustomerPortalNewParams{})
	if err != nil {
		return "", fmt.Errorf("failed to create dodo portal session: %w", err)
	}
	if session.Link == "" {
		return "", ErrNoPortalURL
	}
	return session.Link, nil
}
