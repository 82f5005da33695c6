package subscription

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billsync/pkg/logger"
)

// WebhookOutcome reports how a delivery was handled.
type WebhookOutcome struct {
	Provider  ProviderKind
	Event     *ProviderEvent // nil when normalization failed
	Result    ReconcileResult
	Duplicate bool
}

// UsageReport is the per-resource usage and ceiling for a user.
type UsageReport struct {
	Plan   PlanKey // empty for users on the free tier
	Status Status
	Usage  Limits
	Limits Limits
}

// Service ties together verification, normalization, reconciliation,
// checkout and portal resolution.
type Service struct {
	repo      Repository
	catalog   *Catalog
	providers *Registry
	verifier  *Verifier
	engine    *Engine
	portal    *PortalResolver
	checkout  *CheckoutInitiator
	events    EventLog
	usage     UsageCounter
	logger    *slog.Logger
	timeout   time.Duration

	engineOpts   []EngineOption
	portalOpts   []PortalOption
	checkoutOpts []CheckoutOption
}

// NewService creates a new Service with the given dependencies.
// Panics if required parameters are nil to fail fast during initialization.
func NewService(repo Repository, catalog *Catalog, providers *Registry, opts ...ServiceOption) *Service {
	if repo == nil {
		panic("subscription: Repository is required")
	}
	if catalog == nil {
		panic("subscription: Catalog is required")
	}
	if providers == nil {
		panic("subscription: provider Registry is required")
	}

	s := &Service{
		repo:      repo,
		catalog:   catalog,
		providers: providers,
		logger:    slog.Default(),
		timeout:   10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	mappings := make(map[ProviderKind]PlanMapping, len(providers.providers))
	for kind, p := range providers.providers {
		mappings[kind] = p.Mapping()
	}

	s.verifier = NewVerifier(providers, s.logger)
	s.engine = NewEngine(repo, catalog, mappings,
		append([]EngineOption{WithEngineLogger(s.logger)}, s.engineOpts...)...)
	s.portal = NewPortalResolver(providers,
		append([]PortalOption{WithPortalLogger(s.logger), WithPortalTimeout(s.timeout)}, s.portalOpts...)...)
	s.checkout = NewCheckoutInitiator(repo, providers,
		append([]CheckoutOption{WithCheckoutLogger(s.logger), WithCheckoutTimeout(s.timeout)}, s.checkoutOpts...)...)
	return s
}

// HandleWebhook verifies, normalizes and applies one provider delivery.
//
// Errors: ErrUnknownProvider and ErrProviderDisabled for unroutable
// deliveries, ErrSignatureInvalid for forged ones, ErrNormalization for
// payloads that cannot be understood. Errors for which IsRetryable reports
// true mean the delivery should be retried.
func (s *Service) HandleWebhook(ctx context.Context, provider string, body []byte, header http.Header) (*WebhookOutcome, error) {
	kind, err := ParseProviderKind(provider)
	if err != nil {
		return nil, err
	}
	p, err := s.providers.Get(kind)
	if err != nil {
		return nil, err
	}
	out := &WebhookOutcome{Provider: kind}
	log := s.logger.With(logger.Provider(string(kind)))

	if !s.verifier.Verify(body, header, kind) {
		log.WarnContext(ctx, "webhook signature rejected")
		return out, ErrSignatureInvalid
	}

	ev, err := p.NormalizeEvent(body, header)
	if err != nil {
		log.ErrorContext(ctx, "webhook payload rejected", logger.Error(err))
		return out, errors.Join(ErrNormalization, err)
	}
	out.Event = ev
	log = log.With(logger.EventID(ev.EventID), slog.String("provider_event", ev.ProviderEventType))

	if ev.Kind == EventIgnored {
		out.Result = ResultIgnored
		log.DebugContext(ctx, "webhook event ignored")
		return out, nil
	}

	if s.seen(ctx, log, ev) {
		out.Result = ResultSkipped
		out.Duplicate = true
		log.InfoContext(ctx, "duplicate webhook delivery")
		return out, nil
	}

	out.Result, err = s.engine.Apply(ctx, ev)
	if err != nil {
		log.ErrorContext(ctx, "webhook reconciliation failed", logger.Error(err))
		return out, err
	}
	s.record(ctx, log, ev)
	if out.Result == ResultHandedOver {
		s.followSuccessor(ctx, log, ev)
	}
	return out, nil
}

// followSuccessor pulls the state of the provider a record was handed over
// to. A failure leaves the record on its previous plan until the next event
// or a manual sync.
func (s *Service) followSuccessor(ctx context.Context, log *slog.Logger, ev *ProviderEvent) {
	user, err := s.repo.UserByCustomerID(ctx, ev.Provider, ev.CustomerID)
	if err != nil {
		log.WarnContext(ctx, "handover sync skipped", logger.Error(err))
		return
	}
	if _, err := s.Sync(ctx, user.ID); err != nil {
		log.WarnContext(ctx, "handover sync failed", logger.UserID(user.ID), logger.Error(err))
	}
}

// seen degrades to false on event log errors: Apply is idempotent anyway.
func (s *Service) seen(ctx context.Context, log *slog.Logger, ev *ProviderEvent) bool {
	if s.events == nil || ev.EventID == "" {
		return false
	}
	ok, err := s.events.Seen(ctx, ev.Provider, ev.EventID)
	if err != nil {
		log.WarnContext(ctx, "event log lookup failed", logger.Error(err))
		return false
	}
	return ok
}

func (s *Service) record(ctx context.Context, log *slog.Logger, ev *ProviderEvent) {
	if s.events == nil || ev.EventID == "" {
		return
	}
	if err := s.events.Record(ctx, ev.Provider, ev.EventID); err != nil {
		log.WarnContext(ctx, "event log write failed", logger.Error(err))
	}
}

// Apply reconciles an already normalized event.
func (s *Service) Apply(ctx context.Context, ev *ProviderEvent) (ReconcileResult, error) {
	return s.engine.Apply(ctx, ev)
}

// StartCheckout creates a hosted checkout for plan.
func (s *Service) StartCheckout(ctx context.Context, userID uuid.UUID, plan PlanKey, opts CheckoutOptions) (*CheckoutSession, error) {
	return s.checkout.Start(ctx, userID, plan, opts)
}

// PortalURL resolves the customer portal for the user's subscription.
func (s *Service) PortalURL(ctx context.Context, userID uuid.UUID) (string, error) {
	user, sub, err := s.userSubscription(ctx, userID)
	if err != nil {
		return "", err
	}
	return s.portal.Resolve(ctx, user, sub)
}

// Subscription returns the user's subscription record.
func (s *Service) Subscription(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	sub, err := s.repo.SubscriptionByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil, err
		}
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	return sub, nil
}

// Usage returns the user's usage and ceilings. Users without a subscription
// get the free tier with usage from the UsageCounter.
func (s *Service) Usage(ctx context.Context, userID uuid.UUID) (*UsageReport, error) {
	sub, err := s.Subscription(ctx, userID)
	if err == nil {
		return &UsageReport{Plan: sub.Plan, Status: sub.Status, Usage: sub.Usage, Limits: sub.Limits}, nil
	}
	if !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, err
	}

	report := &UsageReport{Limits: s.catalog.FreeLimits()}
	if s.usage != nil {
		used, err := s.usage.CountUsage(ctx, userID)
		if err != nil {
			return nil, errors.Join(ErrStoreUnavailable, err)
		}
		report.Usage = used
	}
	return report, nil
}

// Plans returns the plan catalog.
func (s *Service) Plans() []Plan {
	return s.catalog.Plans()
}

// Sync pulls the active provider's view of the subscription and applies it
// as an update. It repairs records after missed webhooks.
func (s *Service) Sync(ctx context.Context, userID uuid.UUID) (ReconcileResult, error) {
	user, sub, err := s.userSubscription(ctx, userID)
	if err != nil {
		return "", err
	}

	kind := sub.ActiveProvider
	subID := sub.SubscriptionID(kind)
	if subID == "" {
		return "", ErrMissingSubscriptionID
	}
	p, err := s.providers.Get(kind)
	if err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	remote, err := p.FetchSubscription(callCtx, subID)
	if err != nil {
		return "", errors.Join(ErrProviderRequest, err)
	}

	customerID := remote.CustomerID
	if customerID == "" {
		customerID = user.CustomerID(kind)
	}
	kindOf := EventSubscriptionUpdated
	if StatusFromRaw(remote.Status) == StatusCanceled {
		kindOf = EventSubscriptionCanceled
	}
	return s.engine.Resync(ctx, &ProviderEvent{
		Provider:          kind,
		Kind:              kindOf,
		ProviderEventType: "manual.sync",
		CustomerID:        customerID,
		SubscriptionID:    remote.ID,
		PlanKey:           remote.PriceID,
		PeriodEnd:         remote.PeriodEnd,
		RawStatus:         remote.Status,
		Metadata:          remote.Metadata,
	})
}

func (s *Service) userSubscription(ctx context.Context, userID uuid.UUID) (*User, *Subscription, error) {
	user, err := s.repo.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil, err
		}
		return nil, nil, errors.Join(ErrStoreUnavailable, err)
	}
	sub, err := s.Subscription(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil, nil, ErrNoActiveSubscription
		}
		return nil, nil, err
	}
	return user, sub, nil
}
