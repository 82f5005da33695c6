package subscription

import (
	"context"

	"github.com/google/uuid"
)

// UpdateFunc receives the current subscription (nil when the user has none)
// and returns the record to persist. Returning nil leaves storage untouched.
// The argument is a private copy; mutating it has no effect unless returned.
type UpdateFunc func(current *Subscription) (*Subscription, error)

// Repository defines the persistence the reconciliation engine relies on.
// Each user has at most one subscription, so UserID serves as its key.
type Repository interface {
	// UserByID returns ErrUserNotFound if no user exists.
	UserByID(ctx context.Context, id uuid.UUID) (*User, error)

	// UserByCustomerID resolves the owner of a provider customer id.
	// Returns ErrUserNotFound if nobody owns it.
	UserByCustomerID(ctx context.Context, provider ProviderKind, customerID string) (*User, error)

	// SetCustomerID stores a provider customer id on a user unless one is
	// already present, and returns the id that ends up stored. A concurrent
	// winner's id is returned instead of customerID.
	SetCustomerID(ctx context.Context, userID uuid.UUID, provider ProviderKind, customerID string) (string, error)

	// SubscriptionByUserID returns ErrSubscriptionNotFound if none exists.
	SubscriptionByUserID(ctx context.Context, userID uuid.UUID) (*Subscription, error)

	// UpdateSubscription runs fn as one read-modify-write transaction while
	// holding a per-user lock. Calls for different users never block each other.
	UpdateSubscription(ctx context.Context, userID uuid.UUID, fn UpdateFunc) (*Subscription, error)
}

// EventLog remembers processed webhook deliveries.
type EventLog interface {
	Seen(ctx context.Context, provider ProviderKind, eventID string) (bool, error)
	Record(ctx context.Context, provider ProviderKind, eventID string) error
}

// UsageCounter reports consumption for users without a subscription record.
type UsageCounter interface {
	CountUsage(ctx context.Context, userID uuid.UUID) (Limits, error)
}
