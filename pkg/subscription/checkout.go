package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billsync/pkg/logger"
)

// CheckoutOption configures a CheckoutInitiator.
type CheckoutOption func(*CheckoutInitiator)

// WithDefaultProvider selects the provider used when the request names none.
func WithDefaultProvider(p ProviderKind) CheckoutOption {
	return func(c *CheckoutInitiator) {
		if p.Valid() {
			c.defaultProvider = p
		}
	}
}

// WithReturnURLs sets the redirect targets used when the request has none.
func WithReturnURLs(success, cancel string) CheckoutOption {
	return func(c *CheckoutInitiator) {
		c.successURL = success
		c.cancelURL = cancel
	}
}

func WithCheckoutTimeout(d time.Duration) CheckoutOption {
	return func(c *CheckoutInitiator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithCheckoutLogger(l *slog.Logger) CheckoutOption {
	return func(c *CheckoutInitiator) {
		if l != nil {
			c.logger = l
		}
	}
}

// CheckoutInitiator starts hosted checkouts. The provider customer id is
// created and persisted before the checkout so that the first webhook can
// always be matched to the user.
type CheckoutInitiator struct {
	repo            Repository
	providers       *Registry
	defaultProvider ProviderKind
	successURL      string
	cancelURL       string
	timeout         time.Duration
	logger          *slog.Logger
}

func NewCheckoutInitiator(repo Repository, providers *Registry, opts ...CheckoutOption) *CheckoutInitiator {
	c := &CheckoutInitiator{
		repo:            repo,
		providers:       providers,
		defaultProvider: ProviderStripe,
		timeout:         10 * time.Second,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start validates the plan, ensures a provider customer exists for the user
// and returns a hosted checkout session.
func (c *CheckoutInitiator) Start(ctx context.Context, userID uuid.UUID, plan PlanKey, opts CheckoutOptions) (*CheckoutSession, error) {
	if !plan.Valid() {
		return nil, ErrPlanNotFound
	}

	kind := opts.Provider
	if kind == "" {
		kind = c.defaultProvider
	}
	p, err := c.providers.Get(kind)
	if err != nil {
		return nil, err
	}

	priceID, ok := p.Mapping().PriceID(plan)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no price for plan %q", ErrMissingPriceID, kind, plan)
	}

	if opts.CustomPrice != nil {
		cp, ok := p.(CustomPricer)
		if !ok || !cp.SupportsCustomPrice() {
			return nil, ErrCustomPriceUnsupported
		}
		if *opts.CustomPrice <= 0 {
			return nil, fmt.Errorf("%w: custom price must be positive", ErrCustomPriceUnsupported)
		}
	}

	user, err := c.repo.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	customerID, err := c.ensureCustomer(ctx, p, user)
	if err != nil {
		return nil, err
	}

	successURL := opts.SuccessURL
	if successURL == "" {
		successURL = c.successURL
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	session, err := p.CreateCheckout(callCtx, CheckoutRequest{
		PriceID:     priceID,
		CustomerID:  customerID,
		Email:       user.Email,
		SuccessURL:  successURL,
		CancelURL:   c.cancelURL,
		CustomPrice: opts.CustomPrice,
		Metadata: map[string]string{
			MetadataUserIDKey: user.ID.String(),
			MetadataPlanKey:   string(plan),
		},
	})
	if err != nil {
		return nil, errors.Join(ErrProviderRequest, err)
	}
	if session == nil || session.URL == "" {
		return nil, ErrNoCheckoutURL
	}

	c.logger.InfoContext(ctx, "checkout started",
		logger.Provider(string(kind)),
		logger.UserID(user.ID),
		logger.Plan(string(plan)),
		logger.CustomerID(customerID))
	return session, nil
}

// ensureCustomer returns the user's customer id at p, creating and storing
// one when missing. When a concurrent request stored an id first, that id
// wins and the freshly created customer is abandoned.
func (c *CheckoutInitiator) ensureCustomer(ctx context.Context, p Provider, user *User) (string, error) {
	if id := user.CustomerID(p.Kind()); id != "" {
		return id, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	created, err := p.CreateCustomer(callCtx, CustomerRequest{
		UserID: user.ID.String(),
		Email:  user.Email,
		Name:   user.Name,
	})
	if err != nil {
		return "", errors.Join(ErrProviderRequest, err)
	}
	if created == "" {
		return "", errors.Join(ErrProviderRequest, ErrMissingCustomerID)
	}

	stored, err := c.repo.SetCustomerID(ctx, user.ID, p.Kind(), created)
	if err != nil {
		if errors.Is(err, ErrCustomerIDConflict) {
			return "", err
		}
		return "", errors.Join(ErrStoreUnavailable, err)
	}
	if stored != created {
		c.logger.WarnContext(ctx, "provider customer created concurrently, reusing stored id",
			logger.Provider(string(p.Kind())),
			logger.UserID(user.ID),
			logger.CustomerID(stored),
			slog.String("abandoned_customer_id", created))
	}
	return stored, nil
}
