package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeConfig holds configuration for the Stripe provider.
type StripeConfig struct {
	SecretKey     string            `env:"SECRET_KEY"`
	WebhookSecret string            `env:"WEBHOOK_SECRET"`
	PlanPrices    map[string]string `env:"PLAN_PRICES"` // plan:price_xxx
	PortalReturn  string            `env:"PORTAL_RETURN_URL"`
	BaseURL       string            `env:"BASE_URL"`
}

func (c StripeConfig) Enabled() bool { return c.SecretKey != "" }

// StripeProvider implements Provider for Stripe Billing.
type StripeProvider struct {
	client       *client.API
	secret       string
	mapping      PlanMapping
	portalReturn string
}

// NewStripeProvider creates a new Stripe provider using a dedicated API client
// rather than the package-level key.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if cfg.SecretKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	mapping, err := NewPlanMapping(cfg.PlanPrices)
	if err != nil {
		return nil, err
	}

	var backends *stripe.Backends
	if cfg.BaseURL != "" {
		b := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(cfg.BaseURL),
			MaxNetworkRetries: stripe.Int64(0),
		})
		backends = &stripe.Backends{API: b, Connect: b, Uploads: b}
	}

	return &StripeProvider{
		client:       client.New(cfg.SecretKey, backends),
		secret:       cfg.WebhookSecret,
		mapping:      mapping,
		portalReturn: cfg.PortalReturn,
	}, nil
}

func (p *StripeProvider) Kind() ProviderKind   { return ProviderStripe }
func (p *StripeProvider) Mapping() PlanMapping { return p.mapping }

func (p *StripeProvider) VerifySignature(body []byte, header http.Header) bool {
	sig := header.Get("Stripe-Signature")
	if sig == "" {
		return false
	}
	return webhook.ValidatePayloadWithTolerance(body, sig, p.secret, webhook.DefaultTolerance) == nil
}

// stripeRef decodes fields Stripe sends either as an id or as an expanded object.
type stripeRef string

func (r *stripeRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = stripeRef(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*r = stripeRef(obj.ID)
	return nil
}

type stripeSubscriptionObject struct {
	ID               string            `json:"id"`
	Customer         stripeRef         `json:"customer"`
	Status           string            `json:"status"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type stripeInvoiceObject struct {
	Customer     stripeRef `json:"customer"`
	Subscription stripeRef `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription stripeRef         `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
			Price *struct {
				ID string `json:"id"`
			} `json:"price"`
			Pricing *struct {
				PriceDetails *struct {
					Price string `json:"price"`
				} `json:"price_details"`
			} `json:"pricing"`
		} `json:"data"`
	} `json:"lines"`
}

var stripeEventKinds = map[stripe.EventType]EventKind{
	"customer.subscription.created": EventSubscriptionCreated,
	"customer.subscription.updated": EventSubscriptionUpdated,
	"customer.subscription.deleted": EventSubscriptionCanceled,
	"invoice.paid":                  EventPaymentSucceeded,
	"invoice.payment_succeeded":     EventPaymentSucceeded,
	"invoice.payment_failed":        EventSubscriptionUpdated,
}

func (p *StripeProvider) NormalizeEvent(body []byte, _ http.Header) (*ProviderEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNormalization, err)
	}
	if event.Type == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrNormalization)
	}

	ev := &ProviderEvent{
		Provider:          ProviderStripe,
		Kind:              EventIgnored,
		EventID:           event.ID,
		ProviderEventType: string(event.Type),
	}
	kind, ok := stripeEventKinds[event.Type]
	if !ok {
		return ev, nil
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: stripe %s without data", ErrNormalization, event.Type)
	}

	var err error
	switch event.Type {
	case "invoice.paid", "invoice.payment_succeeded", "invoice.payment_failed":
		err = normalizeStripeInvoice(ev, event.Data.Raw)
		if event.Type == "invoice.payment_failed" {
			ev.RawStatus = "past_due"
		}
	default:
		err = normalizeStripeSubscription(ev, event.Data.Raw)
	}
	if err != nil {
		return nil, err
	}
	// Invoices for one-off charges have no subscription.
	if ev.SubscriptionID == "" {
		ev.Kind = EventIgnored
		return ev, nil
	}
	ev.Kind = kind
	if ev.CustomerID == "" {
		return nil, fmt.Errorf("%w: stripe %s without customer id", ErrNormalization, event.Type)
	}
	return ev, nil
}

func normalizeStripeSubscription(ev *ProviderEvent, raw json.RawMessage) error {
	var sub stripeSubscriptionObject
	if err := json.Unmarshal(raw, &sub); err != nil {
		return fmt.Errorf("%w: %v", ErrNormalization, err)
	}
	ev.CustomerID = string(sub.Customer)
	ev.SubscriptionID = sub.ID
	ev.RawStatus = sub.Status
	ev.Metadata = sub.Metadata

	periodEnd := sub.CurrentPeriodEnd
	if len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		ev.PlanKey = item.Price.ID
		if item.CurrentPeriodEnd > periodEnd {
			periodEnd = item.CurrentPeriodEnd
		}
	}
	if periodEnd > 0 {
		ev.PeriodEnd = time.Unix(periodEnd, 0).UTC()
	}
	return nil
}

func normalizeStripeInvoice(ev *ProviderEvent, raw json.RawMessage) error {
	var inv stripeInvoiceObject
	if err := json.Unmarshal(raw, &inv); err != nil {
		return fmt.Errorf("%w: %v", ErrNormalization, err)
	}
	ev.CustomerID = string(inv.Customer)
	ev.SubscriptionID = string(inv.Subscription)
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		if ev.SubscriptionID == "" {
			ev.SubscriptionID = string(inv.Parent.SubscriptionDetails.Subscription)
		}
		ev.Metadata = inv.Parent.SubscriptionDetails.Metadata
	}
	if len(inv.Lines.Data) > 0 {
		line := inv.Lines.Data[0]
		switch {
		case line.Pricing != nil && line.Pricing.PriceDetails != nil:
			ev.PlanKey = line.Pricing.PriceDetails.Price
		case line.Price != nil:
			ev.PlanKey = line.Price.ID
		}
		if line.Period.End > 0 {
			ev.PeriodEnd = time.Unix(line.Period.End, 0).UTC()
		}
	}
	return nil
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	params := &stripe.CustomerParams{Email: stripe.String(req.Email)}
	params.Context = ctx
	if req.Name != "" {
		params.Name = stripe.String(req.Name)
	}
	params.AddMetadata(MetadataUserIDKey, req.UserID)

	c, err := p.client.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create stripe customer: %w", err)
	}
	return c.ID, nil
}

func (p *StripeProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.PriceID == "" {
		return nil, ErrMissingPriceID
	}
	if req.CustomerID == "" {
		return nil, ErrMissingCustomerID
	}

	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(req.CustomerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(req.PriceID),
			Quantity: stripe.Int64(1),
		}},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{Metadata: req.Metadata},
	}
	params.Context = ctx
	if req.SuccessURL != "" {
		params.SuccessURL = stripe.String(req.SuccessURL)
	}
	if req.CancelURL != "" {
		params.CancelURL = stripe.String(req.CancelURL)
	}
	if uid := req.Metadata[MetadataUserIDKey]; uid != "" {
		params.ClientReferenceID = stripe.String(uid)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	s, err := p.client.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create stripe checkout session: %w", err)
	}
	if s.URL == "" {
		return nil, ErrNoCheckoutURL
	}
	out := &CheckoutSession{URL: s.URL, SessionID: s.ID}
	if s.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(s.ExpiresAt, 0).UTC()
	}
	return out, nil
}

func (p *StripeProvider) FetchSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	if subscriptionID == "" {
		return nil, ErrMissingSubscriptionID
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := p.client.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stripe subscription: %w", err)
	}

	out := &ProviderSubscription{
		ID:       sub.ID,
		Status:   string(sub.Status),
		Metadata: sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
		if item.CurrentPeriodEnd > 0 {
			out.PeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		}
	}
	return out, nil
}

func (p *StripeProvider) PortalURL(ctx context.Context, customerID, _ string) (string, error) {
	if customerID == "" {
		return "", ErrMissingCustomerID
	}
	params := &stripe.BillingPortalSessionParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	if p.portalReturn != "" {
		params.ReturnURL = stripe.String(p.portalReturn)
	}

	s, err := p.client.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create stripe portal session: %w", err)
	}
	if s.URL == "" {
		return "", ErrNoPortalURL
	}
	return s.URL, nil
}
