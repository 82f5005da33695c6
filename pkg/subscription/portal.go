package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/billsync/pkg/circuit"
	"github.com/dmitrymomot/billsync/pkg/logger"
)

// FallbackRecorder observes portal lookups that fell through to the next provider.
type FallbackRecorder interface {
	PortalFallback(provider ProviderKind, reason string)
}

// PortalOption configures a PortalResolver.
type PortalOption func(*PortalResolver)

// WithPortalOrder overrides the provider priority order.
func WithPortalOrder(order ...ProviderKind) PortalOption {
	return func(r *PortalResolver) {
		if len(order) > 0 {
			r.order = order
		}
	}
}

// WithPortalTimeout bounds each provider call.
func WithPortalTimeout(d time.Duration) PortalOption {
	return func(r *PortalResolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithPortalBreakers shares circuit breakers across resolvers.
func WithPortalBreakers(g *circuit.Group) PortalOption {
	return func(r *PortalResolver) {
		if g != nil {
			r.breakers = g
		}
	}
}

func WithPortalLogger(l *slog.Logger) PortalOption {
	return func(r *PortalResolver) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithFallbackRecorder(rec FallbackRecorder) PortalOption {
	return func(r *PortalResolver) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// PortalResolver finds a customer portal URL by walking providers in a fixed
// priority order. A failing provider is logged and skipped, never fatal.
type PortalResolver struct {
	providers *Registry
	order     []ProviderKind
	timeout   time.Duration
	breakers  *circuit.Group
	logger    *slog.Logger
	recorder  FallbackRecorder
}

func NewPortalResolver(providers *Registry, opts ...PortalOption) *PortalResolver {
	r := &PortalResolver{
		providers: providers,
		order:     AllProviders,
		timeout:   10 * time.Second,
		breakers:  circuit.NewGroup(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the first portal URL a provider yields for the user.
// Providers need both a subscription id and a customer id to be tried.
func (r *PortalResolver) Resolve(ctx context.Context, user *User, sub *Subscription) (string, error) {
	if sub == nil {
		return "", ErrNoActiveSubscription
	}

	for _, kind := range r.order {
		subID := sub.SubscriptionID(kind)
		customerID := user.CustomerID(kind)
		if subID == "" || customerID == "" {
			continue
		}

		log := r.logger.With(logger.Provider(string(kind)), logger.UserID(user.ID))

		p, err := r.providers.Get(kind)
		if err != nil {
			r.fallback(ctx, log, kind, "not_configured", err)
			continue
		}

		breaker := r.breakers.Get(string(kind))
		if !breaker.Allow() {
			r.fallback(ctx, log, kind, "circuit_open", ErrPortalProviderUnavailable)
			continue
		}

		url, err := r.call(ctx, p, customerID, subID)
		if err != nil {
			breaker.Failure()
			reason := "error"
			if errors.Is(err, context.DeadlineExceeded) {
				reason = "timeout"
			}
			r.fallback(ctx, log, kind, reason, err)
			continue
		}
		breaker.Success()
		return url, nil
	}

	return "", ErrPortalNotFound
}

func (r *PortalResolver) call(ctx context.Context, p Provider, customerID, subID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	url, err := p.PortalURL(ctx, customerID, subID)
	if err != nil {
		return "", errors.Join(ErrPortalProviderUnavailable, err)
	}
	if url == "" {
		return "", errors.Join(ErrPortalProviderUnavailable, ErrNoPortalURL)
	}
	return url, nil
}

func (r *PortalResolver) fallback(ctx context.Context, log *slog.Logger, kind ProviderKind, reason string, err error) {
	log.WarnContext(ctx, "portal provider unavailable, trying next",
		slog.String("reason", reason), logger.Error(err))
	if r.recorder != nil {
		r.recorder.PortalFallback(kind, reason)
	}
}
