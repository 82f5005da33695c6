package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// PaddleConfig holds configuration for Paddle billing provider.
type PaddleConfig struct {
	APIKey        string            `env:"API_KEY"`
	WebhookSecret string            `env:"WEBHOOK_SECRET"`
	Environment   string            `env:"ENVIRONMENT" envDefault:"production"`
	PlanPrices    map[string]string `env:"PLAN_PRICES"` // plan:pri_xxx
	BaseURL       string            `env:"BASE_URL"`
}

func (c PaddleConfig) Enabled() bool { return c.APIKey != "" }

// PaddleProvider implements Provider for Paddle Billing.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	mapping  PlanMapping
}

// NewPaddleProvider creates a new Paddle billing provider.
func NewPaddleProvider(cfg PaddleConfig) (*PaddleProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var opts []paddle.Option
	if cfg.BaseURL != "" {
		opts = append(opts, paddle.WithBaseURL(cfg.BaseURL))
	}

	var client *paddle.SDK
	var err error
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey, opts...)
	case "production", "":
		client, err = paddle.New(cfg.APIKey, opts...)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidEnvironment, cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	mapping, err := NewPlanMapping(cfg.PlanPrices)
	if err != nil {
		return nil, err
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
		mapping:  mapping,
	}, nil
}

func (p *PaddleProvider) Kind() ProviderKind   { return ProviderPaddle }
func (p *PaddleProvider) Mapping() PlanMapping { return p.mapping }

// VerifySignature checks the Paddle-Signature header. The SDK verifier works
// on requests, so one is rebuilt around the raw body.
func (p *PaddleProvider) VerifySignature(body []byte, header http.Header) bool {
	req, err := http.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header = header.Clone()
	ok, err := p.verifier.Verify(req)
	return err == nil && ok
}

type paddleTimePeriod struct {
	EndsAt string `json:"ends_at"`
}

type paddleEvent struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Data      struct {
		ID                   string            `json:"id"`
		SubscriptionID       string            `json:"subscription_id"`
		CustomerID           string            `json:"customer_id"`
		Status               string            `json:"status"`
		CustomData           map[string]any    `json:"custom_data"`
		CurrentBillingPeriod *paddleTimePeriod `json:"current_billing_period"`
		BillingPeriod        *paddleTimePeriod `json:"billing_period"`
		Items                []struct {
			PriceID string `json:"price_id"`
			Price   *struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"items"`
	} `json:"data"`
}

var paddleEventKinds = map[string]EventKind{
	"subscription.created":   EventSubscriptionCreated,
	"subscription.activated": EventSubscriptionCreated,
	"subscription.updated":   EventSubscriptionUpdated,
	"subscription.resumed":   EventSubscriptionUpdated,
	"subscription.past_due":  EventSubscriptionUpdated,
	"subscription.canceled":  EventSubscriptionCanceled,
	"transaction.completed":  EventPaymentSucceeded,
}

func (p *PaddleProvider) NormalizeEvent(body []byte, _ http.Header) (*ProviderEvent, error) {
	var raw paddleEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNormalization, err)
	}
	if raw.EventType == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrNormalization)
	}

	ev := &ProviderEvent{
		Provider:          ProviderPaddle,
		Kind:              EventIgnored,
		EventID:           raw.EventID,
		ProviderEventType: raw.EventType,
	}
	kind, ok := paddleEventKinds[raw.EventType]
	if !ok {
		return ev, nil
	}

	d := raw.Data
	ev.Kind = kind
	ev.CustomerID = d.CustomerID
	ev.Metadata = stringMap(d.CustomData)
	if strings.HasPrefix(raw.EventType, "transaction.") {
		// Transactions only matter when they renew a subscription.
		if d.SubscriptionID == "" {
			ev.Kind = EventIgnored
			return ev, nil
		}
		ev.SubscriptionID = d.SubscriptionID
		ev.PeriodEnd = parsePaddleTime(d.BillingPeriod)
	} else {
		ev.SubscriptionID = d.ID
		ev.RawStatus = d.Status
		ev.PeriodEnd = parsePaddleTime(d.CurrentBillingPeriod)
	}
	if len(d.Items) > 0 {
		if d.Items[0].Price != nil {
			ev.PlanKey = d.Items[0].Price.ID
		} else {
			ev.PlanKey = d.Items[0].PriceID
		}
	}
	if ev.CustomerID == "" {
		return nil, fmt.Errorf("%w: paddle %s without customer id", ErrNormalization, raw.EventType)
	}
	return ev, nil
}

func parsePaddleTime(tp *paddleTimePeriod) time.Time {
	if tp == nil || tp.EndsAt == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, tp.EndsAt)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func (p *PaddleProvider) CreateCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	create := &paddle.CreateCustomerRequest{
		Email:      req.Email,
		CustomData: paddle.CustomData{MetadataUserIDKey: req.UserID},
	}
	if req.Name != "" {
		create.Name = paddle.PtrTo(req.Name)
	}
	customer, err := p.client.CustomersClient.CreateCustomer(ctx, create)
	if err != nil {
		return "", fmt.Errorf("failed to create paddle customer: %w", err)
	}
	return customer.ID, nil
}

// CreateCheckout creates a transaction whose hosted checkout URL is the session.
func (p *PaddleProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.PriceID == "" {
		return nil, ErrMissingPriceID
	}
	if req.CustomerID == "" {
		return nil, ErrMissingCustomerID
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})
	customData := paddle.CustomData{}
	for k, v := range req.Metadata {
		customData[k] = v
	}
	txReq := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomerID: paddle.PtrTo(req.CustomerID),
		CustomData: customData,
	}
	if req.SuccessURL != "" {
		txReq.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(req.SuccessURL)}
	}

	tx, err := p.client.TransactionsClient.CreateTransaction(ctx, txReq)
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle transaction: %w", err)
	}
	if tx.Checkout == nil || tx.Checkout.URL == nil || *tx.Checkout.URL == "" {
		return nil, ErrNoCheckoutURL
	}
	return &CheckoutSession{
		URL:       *tx.Checkout.URL,
		SessionID: tx.ID,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

func (p *PaddleProvider) FetchSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	if subscriptionID == "" {
		return nil, ErrMissingSubscriptionID
	}
	sub, err := p.client.SubscriptionsClient.GetSubscription(ctx, &paddle.GetSubscriptionRequest{
		SubscriptionID: subscriptionID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch paddle subscription: %w", err)
	}

	out := &ProviderSubscription{
		ID:         sub.ID,
		CustomerID: sub.CustomerID,
		Status:     string(sub.Status),
		Metadata:   stringMap(sub.CustomData),
	}
	if len(sub.Items) > 0 {
		out.PriceID = sub.Items[0].Price.ID
	}
	if sub.CurrentBillingPeriod != nil {
		out.PeriodEnd = parsePaddleTime(&paddleTimePeriod{EndsAt: sub.CurrentBillingPeriod.EndsAt})
	}
	return out, nil
}

func (p *PaddleProvider) PortalURL(ctx context.Context, customerID, subscriptionID string) (string, error) {
	if customerID == "" {
		return "", ErrMissingCustomerID
	}
	req := &paddle.CreateCustomerPortalSessionRequest{CustomerID: customerID}
	if subscriptionID != "" {
		req.SubscriptionIDs = []string{subscriptionID}
	}
	session, err := p.client.CustomerPortalSessionsClient.CreateCustomerPortalSession(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to create paddle customer portal session: %w", err)
	}
	if session.URLs.General.Overview == "" {
		return "", ErrNoPortalURL
	}
	return session.URLs.General.Overview, nil
}

// stringMap flattens provider custom data into string metadata.
func stringMap(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch t := v.(type) {
		case string:
			out[k] = t
		case nil:
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out
}
