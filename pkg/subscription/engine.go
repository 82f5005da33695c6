package subscription

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billsync/pkg/logger"
)

// ReconcileResult describes what Apply did with an event.
type ReconcileResult string

const (
	ResultCreated   ReconcileResult = "created"
	ResultUpdated   ReconcileResult = "updated"
	ResultCanceled  ReconcileResult = "canceled"
	ResultSkipped   ReconcileResult = "skipped"
	ResultUnmatched ReconcileResult = "unmatched"
	ResultIgnored   ReconcileResult = "ignored"

	// ResultHandedOver means the followed subscription ended while another
	// provider still holds one; the record now follows that provider.
	ResultHandedOver ReconcileResult = "handed_over"

	// ResultConflict means the event names a subscription stored for another
	// user. Nothing changed and redelivery cannot help.
	ResultConflict ReconcileResult = "conflict"
)

// Mutated reports whether the result changed stored state.
func (r ReconcileResult) Mutated() bool {
	return r == ResultCreated || r == ResultUpdated || r == ResultCanceled || r == ResultHandedOver
}

// EngineOption configures an Engine instance.
type EngineOption func(*Engine)

// WithEngineLogger sets the logger used for soft failures.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the time source used for CanceledAt.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine applies canonical provider events to local subscription records.
// Apply is idempotent under redelivery and commutative under reordering for
// events of the same provider subscription.
type Engine struct {
	repo     Repository
	catalog  *Catalog
	mappings map[ProviderKind]PlanMapping
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates a reconciliation engine.
// Panics if repo or catalog is nil to fail fast during initialization.
func NewEngine(repo Repository, catalog *Catalog, mappings map[ProviderKind]PlanMapping, opts ...EngineOption) *Engine {
	if repo == nil {
		panic("subscription: Repository is required")
	}
	if catalog == nil {
		panic("subscription: Catalog is required")
	}
	e := &Engine{
		repo:     repo,
		catalog:  catalog,
		mappings: mappings,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply reconciles one event. Unknown customers and stale or duplicate events
// are reported through the result, not as errors. Errors for which IsRetryable
// reports true are worth redelivering.
func (e *Engine) Apply(ctx context.Context, ev *ProviderEvent) (ReconcileResult, error) {
	return e.apply(ctx, ev, false)
}

// Resync applies a snapshot fetched from the provider. Unlike a webhook event
// it may move the status back to active without a newer period end.
func (e *Engine) Resync(ctx context.Context, ev *ProviderEvent) (ReconcileResult, error) {
	return e.apply(ctx, ev, true)
}

func (e *Engine) apply(ctx context.Context, ev *ProviderEvent, snapshot bool) (ReconcileResult, error) {
	if ev == nil {
		return "", ErrNormalization
	}
	if ev.Kind == EventIgnored {
		return ResultIgnored, nil
	}
	if !ev.Provider.Valid() {
		return "", ErrUnknownProvider
	}

	log := e.logger.With(
		logger.Provider(string(ev.Provider)),
		logger.EventKind(string(ev.Kind)),
		logger.CustomerID(ev.CustomerID),
		logger.SubscriptionID(ev.SubscriptionID),
	)

	user, err := e.repo.UserByCustomerID(ctx, ev.Provider, ev.CustomerID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			log.WarnContext(ctx, "webhook for unknown customer")
			return ResultUnmatched, nil
		}
		return "", errors.Join(ErrStoreUnavailable, err)
	}
	log = log.With(logger.UserID(user.ID))

	if metaUser, ok := ev.MetadataUserID(); ok && metaUser != user.ID {
		log.WarnContext(ctx, "event metadata names a different user",
			slog.String("metadata_user_id", metaUser.String()))
	}

	plan := e.resolvePlan(ctx, log, ev)

	var result ReconcileResult
	_, err = e.repo.UpdateSubscription(ctx, user.ID, func(cur *Subscription) (*Subscription, error) {
		res, next, err := e.reconcile(user.ID, cur, ev, plan, snapshot)
		result = res
		return next, err
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrUserNotFound):
			log.WarnContext(ctx, "user removed during reconciliation")
			return ResultUnmatched, nil
		case errors.Is(err, ErrSubscriptionPending):
			log.WarnContext(ctx, "cancellation arrived before its subscription")
			return "", err
		case errors.Is(err, ErrSubscriptionIDConflict), errors.Is(err, ErrCustomerIDConflict):
			log.ErrorContext(ctx, "subscription belongs to another user", logger.Error(err))
			return ResultConflict, nil
		}
		return "", errors.Join(ErrStoreUnavailable, err)
	}

	log.InfoContext(ctx, "subscription reconciled", logger.Result(string(result)), logger.Plan(string(plan)))
	return result, nil
}

// resolvePlan maps the provider plan id to a plan key. An empty result means
// the event carries no plan and the stored one is kept.
func (e *Engine) resolvePlan(ctx context.Context, log *slog.Logger, ev *ProviderEvent) PlanKey {
	if ev.PlanKey == "" {
		return ""
	}
	if plan, ok := e.mappings[ev.Provider].Resolve(ev.PlanKey); ok {
		return plan
	}
	log.WarnContext(ctx, "unmapped provider plan, applying lowest tier",
		logger.Error(ErrPlanUnmapped),
		slog.String("provider_plan", ev.PlanKey))
	return LowestPlan
}

func (e *Engine) reconcile(userID uuid.UUID, cur *Subscription, ev *ProviderEvent, plan PlanKey, snapshot bool) (ReconcileResult, *Subscription, error) {
	if ev.Kind == EventSubscriptionCanceled {
		return e.reconcileCancel(cur, ev)
	}

	status := eventStatus(ev)
	if cur == nil {
		if plan == "" {
			plan = LowestPlan
		}
		next := NewSubscription(userID)
		next.Plan = plan
		next.Status = status
		next.ActiveProvider = ev.Provider
		next.CurrentPeriodEnd = ev.PeriodEnd
		next.Limits = e.catalog.LimitsFor(plan)
		if ev.SubscriptionID != "" {
			next.SubscriptionIDs[ev.Provider] = ev.SubscriptionID
		}
		e.stampCanceled(next, nil)
		return ResultCreated, next, nil
	}

	if plan == "" {
		plan = cur.Plan
	}

	if e.isCurrentSource(cur, ev) {
		if !ev.PeriodEnd.IsZero() && ev.PeriodEnd.Before(cur.CurrentPeriodEnd) {
			return ResultSkipped, nil, nil
		}
		newer := ev.PeriodEnd.After(cur.CurrentPeriodEnd)
		if !snapshot {
			// Within one billing period the status only moves toward canceled,
			// and a subscription never comes back through its own creation event.
			if !newer && status.rank() < cur.Status.rank() {
				return ResultSkipped, nil, nil
			}
			if cur.IsCanceled() && ev.Kind == EventSubscriptionCreated {
				return ResultSkipped, nil, nil
			}
		}
		if !newer && status == cur.Status && plan == cur.Plan {
			return ResultSkipped, nil, nil
		}
		next := cur.Clone()
		next.Plan = plan
		next.Status = status
		if newer {
			next.CurrentPeriodEnd = ev.PeriodEnd
		}
		if ev.SubscriptionID != "" {
			next.SubscriptionIDs[ev.Provider] = ev.SubscriptionID
		}
		next.Limits = e.catalog.LimitsFor(plan)
		e.stampCanceled(next, cur)
		return ResultUpdated, next, nil
	}

	// The event belongs to a different provider or a different subscription
	// than the one the record follows. An active subscription takes over when
	// the record has lapsed or when it grants a higher plan. At the same plan
	// it needs a period end at least as late as the stored one.
	adopt := !cur.IsActive() ||
		(status == StatusActive && (plan.rank() > cur.Plan.rank() ||
			(plan == cur.Plan && !ev.PeriodEnd.Before(cur.CurrentPeriodEnd))))
	if !adopt {
		if ev.SubscriptionID == "" || cur.SubscriptionID(ev.Provider) == ev.SubscriptionID {
			return ResultSkipped, nil, nil
		}
		next := cur.Clone()
		next.SubscriptionIDs[ev.Provider] = ev.SubscriptionID
		return ResultUpdated, next, nil
	}

	next := cur.Clone()
	next.Plan = plan
	next.Status = status
	next.ActiveProvider = ev.Provider
	if !ev.PeriodEnd.IsZero() {
		next.CurrentPeriodEnd = ev.PeriodEnd
	}
	if ev.SubscriptionID != "" {
		next.SubscriptionIDs[ev.Provider] = ev.SubscriptionID
	}
	next.Limits = e.catalog.LimitsFor(plan)
	e.stampCanceled(next, cur)
	return ResultUpdated, next, nil
}

func (e *Engine) reconcileCancel(cur *Subscription, ev *ProviderEvent) (ReconcileResult, *Subscription, error) {
	if cur == nil {
		return "", nil, ErrSubscriptionPending
	}

	if e.isCurrentSource(cur, ev) {
		if !ev.PeriodEnd.IsZero() && ev.PeriodEnd.Before(cur.CurrentPeriodEnd) {
			return ResultSkipped, nil, nil
		}
		if cur.IsCanceled() {
			return ResultSkipped, nil, nil
		}
		if successor := cur.successor(ev.Provider); successor != "" {
			// Another provider still bills the user: follow it instead of
			// canceling. Its state is fetched by the caller.
			next := cur.Clone()
			delete(next.SubscriptionIDs, ev.Provider)
			next.ActiveProvider = successor
			next.CurrentPeriodEnd = time.Time{}
			return ResultHandedOver, next, nil
		}
		next := cur.Clone()
		next.Status = StatusCanceled
		e.stampCanceled(next, cur)
		return ResultCanceled, next, nil
	}

	// Cancellation of a subscription the record no longer follows, usually the
	// old side of a provider migration: forget it, keep the record.
	stored := cur.SubscriptionID(ev.Provider)
	if stored != "" && (ev.SubscriptionID == "" || stored == ev.SubscriptionID) {
		next := cur.Clone()
		delete(next.SubscriptionIDs, ev.Provider)
		return ResultUpdated, next, nil
	}
	return ResultUnmatched, nil, nil
}

// isCurrentSource reports whether ev comes from the provider subscription the
// record currently follows.
func (e *Engine) isCurrentSource(cur *Subscription, ev *ProviderEvent) bool {
	if cur.ActiveProvider != ev.Provider {
		return false
	}
	stored := cur.SubscriptionID(ev.Provider)
	return ev.SubscriptionID == "" || stored == "" || stored == ev.SubscriptionID
}

func (e *Engine) stampCanceled(next, prev *Subscription) {
	switch {
	case next.Status != StatusCanceled:
		next.CanceledAt = nil
	case prev != nil && prev.CanceledAt != nil:
		next.CanceledAt = prev.CanceledAt
	default:
		t := e.now()
		next.CanceledAt = &t
	}
}

// eventStatus derives the local status an event implies.
func eventStatus(ev *ProviderEvent) Status {
	switch ev.Kind {
	case EventPaymentSucceeded:
		return StatusActive
	case EventSubscriptionCanceled:
		return StatusCanceled
	}
	return StatusFromRaw(ev.RawStatus)
}

// StatusFromRaw maps provider status strings onto local statuses.
// Anything unrecognised counts as active.
func StatusFromRaw(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "past_due", "unpaid", "on_hold", "incomplete", "paused", "failed":
		return StatusPastDue
	case "canceled", "cancelled", "expired", "incomplete_expired":
		return StatusCanceled
	}
	return StatusActive
}
