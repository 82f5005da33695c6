package subscription

import (
	"fmt"
	"strings"
)

// ProviderKind identifies a billing provider. The set is closed: every value
// has a dedicated adapter and a column in persistent storage.
type ProviderKind string

const (
	ProviderStripe       ProviderKind = "stripe"
	ProviderLemonSqueezy ProviderKind = "lemonsqueezy"
	ProviderDodo         ProviderKind = "dodo"
	ProviderPaddle       ProviderKind = "paddle"
)

// AllProviders lists providers in default portal priority order.
var AllProviders = []ProviderKind{
	ProviderStripe,
	ProviderLemonSqueezy,
	ProviderDodo,
	ProviderPaddle,
}

// Valid reports whether p is one of the supported providers.
func (p ProviderKind) Valid() bool {
	switch p {
	case ProviderStripe, ProviderLemonSqueezy, ProviderDodo, ProviderPaddle:
		return true
	}
	return false
}

// ParseProviderKind converts a user or config supplied name into a ProviderKind.
func ParseProviderKind(s string) (ProviderKind, error) {
	p := ProviderKind(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
	}
	return p, nil
}

// PlanKey is the internal plan identifier.
type PlanKey string

const (
	PlanBasic  PlanKey = "basic"
	PlanPro    PlanKey = "pro"
	PlanAgency PlanKey = "agency"
)

// LowestPlan receives every paying customer whose provider price is not mapped.
const LowestPlan = PlanBasic

// Plans lists paid plans from the lowest tier up.
var Plans = []PlanKey{PlanBasic, PlanPro, PlanAgency}

// rank orders plans from the lowest tier up; unknown plans rank below basic.
func (p PlanKey) rank() int {
	for i, k := range Plans {
		if k == p {
			return i + 1
		}
	}
	return 0
}

func (p PlanKey) Valid() bool {
	switch p {
	case PlanBasic, PlanPro, PlanAgency:
		return true
	}
	return false
}

// Status is the local subscription state.
type Status string

const (
	StatusActive   Status = "active"
	StatusCanceled Status = "canceled"
	StatusPastDue  Status = "past_due"
)

// rank orders statuses by how far they are from a paying subscription.
func (s Status) rank() int {
	switch s {
	case StatusPastDue:
		return 1
	case StatusCanceled:
		return 2
	}
	return 0
}

// Resource is a metered feature with a numeric usage ceiling.
type Resource string

const (
	ResourceAnalyses             Resource = "analyses"
	ResourceKeywords             Resource = "keywords"
	ResourceCompetitors          Resource = "competitors"
	ResourceSerpTrackings        Resource = "serp_trackings"
	ResourceContentOptimizations Resource = "content_optimizations"
	ResourceAudits               Resource = "audits"
)

// Resources lists every metered resource.
var Resources = []Resource{
	ResourceAnalyses,
	ResourceKeywords,
	ResourceCompetitors,
	ResourceSerpTrackings,
	ResourceContentOptimizations,
	ResourceAudits,
}

// Limits holds one numeric value per metered resource. It is used both for
// entitlement ceilings and for usage counters.
type Limits struct {
	Analyses             int64 `yaml:"analyses" json:"analyses"`
	Keywords             int64 `yaml:"keywords" json:"keywords"`
	Competitors          int64 `yaml:"competitors" json:"competitors"`
	SerpTrackings        int64 `yaml:"serp_trackings" json:"serpTrackings"`
	ContentOptimizations int64 `yaml:"content_optimizations" json:"contentOptimizations"`
	Audits               int64 `yaml:"audits" json:"audits"`
}

// Get returns the value for a resource.
func (l Limits) Get(r Resource) int64 {
	switch r {
	case ResourceAnalyses:
		return l.Analyses
	case ResourceKeywords:
		return l.Keywords
	case ResourceCompetitors:
		return l.Competitors
	case ResourceSerpTrackings:
		return l.SerpTrackings
	case ResourceContentOptimizations:
		return l.ContentOptimizations
	case ResourceAudits:
		return l.Audits
	}
	return 0
}

// Set assigns the value for a resource. Unknown resources are ignored.
func (l *Limits) Set(r Resource, v int64) {
	switch r {
	case ResourceAnalyses:
		l.Analyses = v
	case ResourceKeywords:
		l.Keywords = v
	case ResourceCompetitors:
		l.Competitors = v
	case ResourceSerpTrackings:
		l.SerpTrackings = v
	case ResourceContentOptimizations:
		l.ContentOptimizations = v
	case ResourceAudits:
		l.Audits = v
	}
}

// Money represents a monetary amount in the smallest currency unit.
// For example, $10.99 USD would be Amount: 1099, Currency: "USD".
type Money struct {
	Amount   int64  `yaml:"amount" json:"amount"`
	Currency string `yaml:"currency" json:"currency"`
}

// EventKind is the canonical billing event type every provider maps onto.
type EventKind string

const (
	EventSubscriptionCreated  EventKind = "subscription_created"
	EventSubscriptionUpdated  EventKind = "subscription_updated"
	EventSubscriptionCanceled EventKind = "subscription_canceled"
	EventPaymentSucceeded     EventKind = "payment_succeeded"

	// EventIgnored marks provider events that carry nothing to reconcile.
	EventIgnored EventKind = "ignored"
)

// CheckoutOptions contains caller supplied options for a new checkout.
type CheckoutOptions struct {
	Provider    ProviderKind // empty selects the configured default
	CustomPrice *int64       // smallest currency unit, only for providers that support it
	SuccessURL  string
}
