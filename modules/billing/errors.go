package billing

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/billsync/handler"
	"github.com/dmitrymomot/billsync/pkg/subscription"
)

var (
	errPlanNotFound        = handler.HTTPError{Code: http.StatusUnprocessableEntity, Key: "plan_not_found", Message: "Unknown plan"}
	errProviderUnavailable = handler.HTTPError{Code: http.StatusUnprocessableEntity, Key: "provider_unavailable", Message: "Billing provider is not available"}
	errPlanNotOffered      = handler.HTTPError{Code: http.StatusUnprocessableEntity, Key: "plan_not_offered", Message: "Plan is not offered by this provider"}
	errCustomPrice         = handler.HTTPError{Code: http.StatusUnprocessableEntity, Key: "custom_price_unsupported", Message: "Custom price is not supported"}
	errNoSubscription      = handler.HTTPError{Code: http.StatusNotFound, Key: "no_subscription", Message: "No subscription"}
	errPortalNotFound      = handler.HTTPError{Code: http.StatusNotFound, Key: "portal_not_found", Message: "No customer portal available"}
	errUserNotFound        = handler.HTTPError{Code: http.StatusNotFound, Key: "user_not_found", Message: "User not found"}
	errCustomerConflict    = handler.HTTPError{Code: http.StatusConflict, Key: "customer_conflict", Message: "Billing account conflict"}
	errSyncUnavailable     = handler.HTTPError{Code: http.StatusConflict, Key: "sync_unavailable", Message: "Subscription cannot be synchronised"}
	errProviderFailed      = handler.HTTPError{Code: http.StatusBadGateway, Key: "provider_error", Message: "Billing provider request failed"}
	errStoreUnavailable    = handler.HTTPError{Code: http.StatusServiceUnavailable, Key: "store_unavailable", Message: "Try again later"}
	errSignature           = handler.HTTPError{Code: http.StatusUnauthorized, Key: "invalid_signature", Message: "Invalid signature"}
	errUnknownProvider     = handler.HTTPError{Code: http.StatusNotFound, Key: "unknown_provider", Message: "Unknown provider"}
	errRateLimited         = handler.HTTPError{Code: http.StatusTooManyRequests, Key: "rate_limited", Message: "Too many requests"}
)

// httpError maps billing errors onto client-safe HTTP errors. Provider
// payloads and signature material never reach the response.
func httpError(err error) error {
	var mapped handler.HTTPError
	switch {
	case errors.Is(err, subscription.ErrStoreUnavailable):
		mapped = errStoreUnavailable
	case errors.Is(err, subscription.ErrPlanNotFound):
		mapped = errPlanNotFound
	case errors.Is(err, subscription.ErrUnknownProvider), errors.Is(err, subscription.ErrProviderDisabled):
		mapped = errProviderUnavailable
	case errors.Is(err, subscription.ErrCustomPriceUnsupported):
		mapped = errCustomPrice
	case errors.Is(err, subscription.ErrMissingPriceID):
		mapped = errPlanNotOffered
	case errors.Is(err, subscription.ErrNoActiveSubscription), errors.Is(err, subscription.ErrSubscriptionNotFound):
		mapped = errNoSubscription
	case errors.Is(err, subscription.ErrPortalNotFound):
		mapped = errPortalNotFound
	case errors.Is(err, subscription.ErrUserNotFound):
		mapped = errUserNotFound
	case errors.Is(err, subscription.ErrCustomerIDConflict), errors.Is(err, subscription.ErrSubscriptionIDConflict):
		mapped = errCustomerConflict
	case errors.Is(err, subscription.ErrMissingSubscriptionID):
		mapped = errSyncUnavailable
	case errors.Is(err, subscription.ErrProviderRequest), errors.Is(err, subscription.ErrNoCheckoutURL):
		mapped = errProviderFailed
	default:
		return err
	}
	return errors.Join(err, mapped)
}
