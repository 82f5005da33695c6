package subscription

import "errors"

var (
	ErrPlanNotFound             = errors.New("subscription plan not found")
	ErrInvalidPlanConfiguration = errors.New("invalid subscription plan configuration")
	ErrFailedToLoadPlans        = errors.New("failed to load subscription plans")
	ErrInvalidPlanMapping       = errors.New("invalid provider plan mapping")

	// ErrPlanUnmapped is soft: the event is applied with the lowest plan.
	ErrPlanUnmapped = errors.New("provider price is not mapped to a plan")

	ErrUnknownProvider  = errors.New("unknown billing provider")
	ErrProviderDisabled = errors.New("billing provider is not configured")

	// Webhook ingestion
	ErrSignatureInvalid = errors.New("webhook signature verification failed")
	ErrNormalization    = errors.New("webhook payload cannot be normalized")

	// ErrUnmatchedCustomer is soft: the webhook is acknowledged and nothing changes.
	ErrUnmatchedCustomer = errors.New("no user matches provider customer")

	// ErrStoreUnavailable makes a webhook redeliver, see IsRetryable.
	ErrStoreUnavailable = errors.New("subscription store unavailable")

	ErrUserNotFound         = errors.New("user not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrNoActiveSubscription = errors.New("user has no subscription")
	ErrCustomerIDConflict   = errors.New("provider customer id belongs to another user")

	// ErrSubscriptionIDConflict is permanent: the subscription id is stored
	// for another user.
	ErrSubscriptionIDConflict = errors.New("provider subscription id belongs to another user")

	// ErrSubscriptionPending is retryable: a cancellation arrived for a user
	// who has no subscription yet, so the creation event is still in flight.
	ErrSubscriptionPending = errors.New("subscription not created yet")

	// Portal resolution
	ErrPortalProviderUnavailable = errors.New("billing provider portal unavailable")
	ErrPortalNotFound            = errors.New("no customer portal available")

	// Provider-specific errors
	ErrMissingAPIKey          = errors.New("billing provider API key is required")
	ErrMissingWebhookSecret   = errors.New("billing provider webhook secret is required")
	ErrMissingStoreID         = errors.New("billing provider store ID is required")
	ErrInvalidEnvironment     = errors.New("invalid billing provider environment")
	ErrNoCheckoutURL          = errors.New("no checkout URL returned from provider")
	ErrNoPortalURL            = errors.New("no portal URL returned from provider")
	ErrMissingCustomerID      = errors.New("provider customer ID is required")
	ErrMissingSubscriptionID  = errors.New("provider subscription ID is required")
	ErrMissingPriceID         = errors.New("price ID is required")
	ErrCustomPriceUnsupported = errors.New("provider does not support custom prices")
	ErrProviderRequest        = errors.New("billing provider request failed")
)

// IsRetryable reports whether err should make the webhook transport answer
// with a non-2xx status so the provider redelivers.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrSubscriptionPending)
}
