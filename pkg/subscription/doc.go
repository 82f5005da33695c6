// Package subscription keeps one authoritative local subscription record per
// user while customers pay through several independent billing providers.
//
// # Architecture
//
//   - Provider: one adapter per billing provider (Stripe, LemonSqueezy, Dodo,
//     Paddle) that verifies webhook signatures, normalizes payloads into
//     ProviderEvent values and wraps the provider API.
//   - Verifier: fail-closed signature dispatch over the raw request body.
//   - Engine: applies canonical events to the Subscription record under a
//     precedence policy, inside a per-user repository transaction.
//   - Catalog: the immutable plan catalog (embedded YAML) that limits are
//     derived from.
//   - PortalResolver: walks providers in priority order and returns the first
//     customer portal URL that resolves.
//   - CheckoutInitiator: creates and stores the provider customer before
//     starting a hosted checkout.
//   - Service: the facade HTTP handlers call.
//
// # Precedence
//
// Events for the subscription the record currently follows mutate it only
// when their period end moves forward or they change status or plan; an
// event with an older period end never mutates. Within one period the status
// only moves toward canceled, so late deliveries cannot undo a cancellation.
// Events for another provider or another subscription take over an active
// record only when they grant a higher plan, or the same plan for at least as
// long; otherwise only the provider subscription id is remembered.
// Cancellations of a subscription the record no longer follows clear that
// provider's id and keep the record. Cancelling the followed subscription
// while another provider still holds one hands the record over to it.
//
// # Quick Start
//
//	catalog := subscription.MustDefaultCatalog()
//	stripeProvider, err := subscription.NewStripeProvider(cfg.Stripe)
//	if err != nil {
//		return err
//	}
//	svc := subscription.NewService(repo, catalog,
//		subscription.NewRegistry(stripeProvider),
//		subscription.WithEventLog(eventLog),
//	)
//
//	outcome, err := svc.HandleWebhook(ctx, "stripe", body, r.Header)
//
// # Errors
//
// IsRetryable reports the errors worth a provider redelivery:
// ErrStoreUnavailable and ErrSubscriptionPending, the latter for a
// cancellation that arrived before its subscription. ErrSignatureInvalid,
// ErrNormalization, ErrUnknownProvider and ErrCustomPriceUnsupported are
// permanent. Unknown customers, stale events and subscription ids owned by
// another user are not errors; they are reported as ResultUnmatched,
// ResultSkipped and ResultConflict.
package subscription
