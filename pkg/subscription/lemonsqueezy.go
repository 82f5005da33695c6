package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrymomot/billsync/pkg/webhook"
)

const lemonSqueezyAPI = "https://api.lemonsqueezy.com"

// LemonSqueezyConfig holds configuration for the LemonSqueezy provider.
type LemonSqueezyConfig struct {
	APIKey        string            `env:"API_KEY"`
	WebhookSecret string            `env:"WEBHOOK_SECRET"`
	StoreID       string            `env:"STORE_ID"`
	PlanPrices    map[string]string `env:"PLAN_PRICES"` // plan:variant_id
	BaseURL       string            `env:"BASE_URL" envDefault:"https://api.lemonsqueezy.com"`
}

func (c LemonSqueezyConfig) Enabled() bool { return c.APIKey != "" }

// LemonSqueezyProvider implements Provider for LemonSqueezy. It is the only
// provider that accepts a custom checkout price.
type LemonSqueezyProvider struct {
	http    *http.Client
	baseURL string
	apiKey  string
	secret  string
	storeID string
	mapping PlanMapping
}

// NewLemonSqueezyProvider creates a LemonSqueezy provider. A nil client uses
// http.DefaultClient; per-call deadlines come from the context.
func NewLemonSqueezyProvider(cfg LemonSqueezyConfig, hc *http.Client) (*LemonSqueezyProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	if cfg.StoreID == "" {
		return nil, ErrMissingStoreID
	}
	mapping, err := NewPlanMapping(cfg.PlanPrices)
	if err != nil {
		return nil, err
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = lemonSqueezyAPI
	}
	return &LemonSqueezyProvider{
		http:    hc,
		baseURL: base,
		apiKey:  cfg.APIKey,
		secret:  cfg.WebhookSecret,
		storeID: cfg.StoreID,
		mapping: mapping,
	}, nil
}

func (p *LemonSqueezyProvider) Kind() ProviderKind        { return ProviderLemonSqueezy }
func (p *LemonSqueezyProvider) Mapping() PlanMapping      { return p.mapping }
func (p *LemonSqueezyProvider) SupportsCustomPrice() bool { return true }

func (p *LemonSqueezyProvider) VerifySignature(body []byte, header http.Header) bool {
	return webhook.VerifyHex(p.secret, body, header.Get("X-Signature")) == nil
}

// lsID decodes ids LemonSqueezy sends as numbers in attributes and as
// strings in resource objects.
type lsID string

func (id *lsID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = lsID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = lsID(n.String())
	return nil
}

type lsSubscriptionAttributes struct {
	CustomerID     lsID       `json:"customer_id"`
	VariantID      lsID       `json:"variant_id"`
	SubscriptionID lsID       `json:"subscription_id"` // invoices only
	Status         string     `json:"status"`
	RenewsAt       *time.Time `json:"renews_at"`
	EndsAt         *time.Time `json:"ends_at"`
	URLs           struct {
		CustomerPortal string `json:"customer_portal"`
	} `json:"urls"`
}

type lsWebhook struct {
	Meta struct {
		EventName  string         `json:"event_name"`
		WebhookID  string         `json:"webhook_id"`
		CustomData map[string]any `json:"custom_data"`
	} `json:"meta"`
	Data struct {
		Type       string                   `json:"type"`
		ID         lsID                     `json:"id"`
		Attributes lsSubscriptionAttributes `json:"attributes"`
	} `json:"data"`
}

var lemonSqueezyEventKinds = map[string]EventKind{
	"subscription_created":         EventSubscriptionCreated,
	"subscription_updated":         EventSubscriptionUpdated,
	"subscription_resumed":         EventSubscriptionUpdated,
	"subscription_unpaused":        EventSubscriptionUpdated,
	"subscription_plan_changed":    EventSubscriptionUpdated,
	"subscription_cancelled":       EventSubscriptionCanceled,
	"subscription_expired":         EventSubscriptionCanceled,
	"subscription_payment_success": EventPaymentSucceeded,
	"subscription_payment_failed":  EventSubscriptionUpdated,
}

func (p *LemonSqueezyProvider) NormalizeEvent(body []byte, header http.Header) (*ProviderEvent, error) {
	var raw lsWebhook
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNormalization, err)
	}
	name := raw.Meta.EventName
	if name == "" {
		name = header.Get("X-Event-Name")
	}
	if name == "" {
		return nil, fmt.Errorf("%w: missing event name", ErrNormalization)
	}

	ev := &ProviderEvent{
		Provider:          ProviderLemonSqueezy,
		Kind:              EventIgnored,
		EventID:           raw.Meta.WebhookID,
		ProviderEventType: name,
	}
	kind, ok := lemonSqueezyEventKinds[name]
	if !ok {
		return ev, nil
	}

	attrs := raw.Data.Attributes
	ev.Kind = kind
	ev.CustomerID = string(attrs.CustomerID)
	ev.Metadata = stringMap(raw.Meta.CustomData)
	if raw.Data.Type == "subscription-invoices" {
		ev.SubscriptionID = string(attrs.SubscriptionID)
	} else {
		ev.SubscriptionID = string(raw.Data.ID)
		ev.PlanKey = string(attrs.VariantID)
		ev.RawStatus = attrs.Status
		if attrs.RenewsAt != nil {
			ev.PeriodEnd = attrs.RenewsAt.UTC()
		}
	}
	if name == "subscription_payment_failed" {
		ev.RawStatus = "past_due"
	}
	if ev.CustomerID == "" {
		return nil, fmt.Errorf("%w: lemonsqueezy %s without customer id", ErrNormalization, name)
	}
	return ev, nil
}

type lsRelationship struct {
	Data lsResourceRef `json:"data"`
}

type lsResourceRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type lsDocument struct {
	Data struct {
		Type          string                    `json:"type"`
		ID            lsID                      `json:"id,omitempty"`
		Attributes    json.RawMessage           `json:"attributes,omitempty"`
		Relationships map[string]lsRelationship `json:"relationships,omitempty"`
	} `json:"data"`
}

func (p *LemonSqueezyProvider) CreateCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	name := req.Name
	if name == "" {
		name = req.Email
	}
	attrs, _ := json.Marshal(map[string]string{"name": name, "email": req.Email})

	var doc lsDocument
	doc.Data.Type = "customers"
	doc.Data.Attributes = attrs
	doc.Data.Relationships = map[string]lsRelationship{
		"store": {Data: lsResourceRef{Type: "stores", ID: p.storeID}},
	}

	var out lsDocument
	if err := p.do(ctx, http.MethodPost, "/v1/customers", &doc, &out); err != nil {
		return "", fmt.Errorf("failed to create lemonsqueezy customer: %w", err)
	}
	return string(out.Data.ID), nil
}

func (p *LemonSqueezyProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.PriceID == "" {
		return nil, ErrMissingPriceID
	}

	attrs := map[string]any{
		"checkout_data": map[string]any{
			"email":  req.Email,
			"custom": req.Metadata,
		},
	}
	if req.CustomPrice != nil {
		attrs["custom_price"] = *req.CustomPrice
	}
	if req.SuccessURL != "" {
		attrs["product_options"] = map[string]any{"redirect_url": req.SuccessURL}
	}
	rawAttrs, err := json.Marshal(attrs)
	if err != nil {
		return nil, err
	}

	var doc lsDocument
	doc.Data.Type = "checkouts"
	doc.Data.Attributes = rawAttrs
	doc.Data.Relationships = map[string]lsRelationship{
		"store":   {Data: lsResourceRef{Type: "stores", ID: p.storeID}},
		"variant": {Data: lsResourceRef{Type: "variants", ID: req.PriceID}},
	}

	var out lsDocument
	if err := p.do(ctx, http.MethodPost, "/v1/checkouts", &doc, &out); err != nil {
		return nil, fmt.Errorf("failed to create lemonsqueezy checkout: %w", err)
	}
	var checkout struct {
		URL       string     `json:"url"`
		ExpiresAt *time.Time `json:"expires_at"`
	}
	if err := json.Unmarshal(out.Data.Attributes, &checkout); err != nil {
		return nil, fmt.Errorf("failed to decode lemonsqueezy checkout: %w", err)
	}
	if checkout.URL == "" {
		return nil, ErrNoCheckoutURL
	}
	session := &CheckoutSession{URL: checkout.URL, SessionID: string(out.Data.ID)}
	if checkout.ExpiresAt != nil {
		session.ExpiresAt = checkout.ExpiresAt.UTC()
	}
	return session, nil
}

func (p *LemonSqueezyProvider) FetchSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	attrs, err := p.subscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	out := &ProviderSubscription{
		ID:         subscriptionID,
		CustomerID: string(attrs.CustomerID),
		PriceID:    string(attrs.VariantID),
		Status:     attrs.Status,
	}
	if attrs.RenewsAt != nil {
		out.PeriodEnd = attrs.RenewsAt.UTC()
	}
	return out, nil
}

// PortalURL returns the signed portal link LemonSqueezy embeds in the
// subscription resource, falling back to the customer resource.
func (p *LemonSqueezyProvider) PortalURL(ctx context.Context, customerID, subscriptionID string) (string, error) {
	if subscriptionID != "" {
		attrs, err := p.subscription(ctx, subscriptionID)
		if err != nil {
			return "", err
		}
		if attrs.URLs.CustomerPortal != "" {
			return attrs.URLs.CustomerPortal, nil
		}
	}
	if customerID == "" {
		return "", ErrMissingCustomerID
	}
	var out lsDocument
	if err := p.do(ctx, http.MethodGet, "/v1/customers/"+customerID, nil, &out); err != nil {
		return "", fmt.Errorf("failed to fetch lemonsqueezy customer: %w", err)
	}
	var attrs lsSubscriptionAttributes
	if err := json.Unmarshal(out.Data.Attributes, &attrs); err != nil {
		return "", fmt.Errorf("failed to decode lemonsqueezy customer: %w", err)
	}
	if attrs.URLs.CustomerPortal == "" {
		return "", ErrNoPortalURL
	}
	return attrs.URLs.CustomerPortal, nil
}

func (p *LemonSqueezyProvider) subscription(ctx context.Context, id string) (*lsSubscriptionAttributes, error) {
	if id == "" {
		return nil, ErrMissingSubscriptionID
	}
	var out lsDocument
	if err := p.do(ctx, http.MethodGet, "/v1/subscriptions/"+id, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch lemonsqueezy subscription: %w", err)
	}
	var attrs lsSubscriptionAttributes
	if err := json.Unmarshal(out.Data.Attributes, &attrs); err != nil {
		return nil, fmt.Errorf("failed to decode lemonsqueezy subscription: %w", err)
	}
	return &attrs, nil
}

func (p *LemonSqueezyProvider) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "application/vnd.api+json")
	if in != nil {
		req.Header.Set("Content-Type", "application/vnd.api+json")
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: %s %s returned %s", ErrProviderRequest, method, path, strconv.Itoa(resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
