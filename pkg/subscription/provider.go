package subscription

import (
	"context"
	"net/http"
	"time"
)

// Provider is the capability set every billing provider adapter implements.
// Adapters receive their credentials and plan mapping at construction and
// hide all provider-specific payload shapes behind the canonical model.
//
// Implementations use the official provider SDK where one exists and handle
// provider quirks internally (e.g. expanded customer objects, numeric ids).
type Provider interface {
	Kind() ProviderKind

	// VerifySignature checks the webhook signature over the raw, unparsed body.
	// It must fail closed and must not panic.
	VerifySignature(body []byte, header http.Header) bool

	// NormalizeEvent maps a verified payload onto the canonical event model.
	// Unknown event types yield EventIgnored, malformed payloads ErrNormalization.
	NormalizeEvent(body []byte, header http.Header) (*ProviderEvent, error)

	// Mapping returns the plan to provider id table used by the adapter.
	Mapping() PlanMapping

	CreateCustomer(ctx context.Context, req CustomerRequest) (string, error)
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	FetchSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)

	// PortalURL returns a pre-authenticated customer portal link.
	PortalURL(ctx context.Context, customerID, subscriptionID string) (string, error)
}

// CustomPricer is implemented by providers that accept a custom checkout price.
type CustomPricer interface {
	SupportsCustomPrice() bool
}

// CustomerRequest contains data needed to create a provider customer.
type CustomerRequest struct {
	UserID string
	Email  string
	Name   string
}

// CheckoutRequest contains data needed to create a checkout session.
type CheckoutRequest struct {
	PriceID     string // Provider's price/variant/product identifier
	CustomerID  string // Provider customer id, created before the checkout
	Email       string
	SuccessURL  string
	CancelURL   string
	CustomPrice *int64
	Metadata    map[string]string
}

// CheckoutSession represents a hosted checkout session.
type CheckoutSession struct {
	URL       string // Hosted checkout URL
	SessionID string // Provider's session identifier
	ExpiresAt time.Time
}

// ProviderSubscription is the provider's current view of a subscription,
// used for manual resynchronisation.
type ProviderSubscription struct {
	ID         string
	CustomerID string
	PriceID    string
	Status     string
	PeriodEnd  time.Time
	Metadata   map[string]string
}

// Registry holds the configured provider adapters by kind.
type Registry struct {
	providers map[ProviderKind]Provider
}

// NewRegistry indexes adapters by their kind. Nil adapters are skipped so
// callers can pass optional providers unconditionally.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[ProviderKind]Provider, len(providers))}
	for _, p := range providers {
		if p == nil {
			continue
		}
		r.providers[p.Kind()] = p
	}
	return r
}

// Get returns the adapter for kind.
func (r *Registry) Get(kind ProviderKind) (Provider, error) {
	if !kind.Valid() {
		return nil, ErrUnknownProvider
	}
	p, ok := r.providers[kind]
	if !ok {
		return nil, ErrProviderDisabled
	}
	return p, nil
}

// Kinds returns the configured providers in default priority order.
func (r *Registry) Kinds() []ProviderKind {
	out := make([]ProviderKind, 0, len(r.providers))
	for _, k := range AllProviders {
		if _, ok := r.providers[k]; ok {
			out = append(out, k)
		}
	}
	return out
}
