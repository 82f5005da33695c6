package subscription

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// User is the billing view of an application account.
// CustomerIDs holds at most one customer id per provider.
type User struct {
	ID          uuid.UUID
	Email       string
	Name        string
	CustomerIDs map[ProviderKind]string
}

// CustomerID returns the user's customer id at a provider, or "".
func (u *User) CustomerID(p ProviderKind) string {
	if u == nil || u.CustomerIDs == nil {
		return ""
	}
	return u.CustomerIDs[p]
}

// Subscription is the single authoritative local record of a user's plan.
// Records are never deleted; cancellation only flips Status.
type Subscription struct {
	UserID           uuid.UUID // Primary key - one subscription per user
	Plan             PlanKey
	Status           Status
	SubscriptionIDs  map[ProviderKind]string
	ActiveProvider   ProviderKind // provider whose event last adopted the record
	CurrentPeriodEnd time.Time
	Usage            Limits
	Limits           Limits
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CanceledAt       *time.Time
}

// NewSubscription returns an empty record owned by userID.
func NewSubscription(userID uuid.UUID) *Subscription {
	return &Subscription{
		UserID:          userID,
		SubscriptionIDs: make(map[ProviderKind]string),
	}
}

// IsActive returns true if the subscription is active (paid).
func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

// IsCanceled returns true if the subscription is canceled.
func (s *Subscription) IsCanceled() bool {
	return s.Status == StatusCanceled
}

// SubscriptionID returns the provider subscription id stored for p, or "".
func (s *Subscription) SubscriptionID(p ProviderKind) string {
	if s == nil || s.SubscriptionIDs == nil {
		return ""
	}
	return s.SubscriptionIDs[p]
}

// successor returns the first provider other than p, in portal priority
// order, that still has a subscription id on the record.
func (s *Subscription) successor(p ProviderKind) ProviderKind {
	for _, k := range AllProviders {
		if k != p && s.SubscriptionID(k) != "" {
			return k
		}
	}
	return ""
}

// Clone returns a deep copy so callers can mutate without touching stored state.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	c.SubscriptionIDs = maps.Clone(s.SubscriptionIDs)
	if c.SubscriptionIDs == nil {
		c.SubscriptionIDs = make(map[ProviderKind]string)
	}
	if s.CanceledAt != nil {
		t := *s.CanceledAt
		c.CanceledAt = &t
	}
	return &c
}

// ProviderEvent is a verified provider notification mapped onto the
// canonical event model. It is never persisted.
type ProviderEvent struct {
	Provider          ProviderKind
	Kind              EventKind
	EventID           string // delivery id used for dedupe, may be empty
	ProviderEventType string // original provider event name
	CustomerID        string
	SubscriptionID    string
	PlanKey           string // provider price/variant/product id, resolved through PlanMapping
	PeriodEnd         time.Time
	RawStatus         string
	Metadata          map[string]string
}

// MetadataUserID returns the user id the event was attributed to at checkout.
func (e *ProviderEvent) MetadataUserID() (uuid.UUID, bool) {
	if e == nil || e.Metadata == nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(e.Metadata[MetadataUserIDKey])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Metadata keys attached to provider checkouts and customers.
const (
	MetadataUserIDKey = "user_id"
	MetadataPlanKey   = "plan"
)
