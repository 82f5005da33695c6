package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/billsync/pkg/pg"
	billing "github.com/dmitrymomot/billsync/pkg/subscription"
)

// Repository is the PostgreSQL implementation of billing.Repository.
type Repository struct {
	pool *pgxpool.Pool
}

var _ billing.Repository = (*Repository)(nil)

// NewRepository panics if pool is nil.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("subscription: pool is required")
	}
	return &Repository{pool: pool}
}

var (
	userSelect = "SELECT id, email, name, " + providerColumns("_customer_id") + " FROM billing_users"

	subscriptionSelect = "SELECT user_id, plan, status, active_provider, " +
		providerColumns("_subscription_id") +
		", current_period_end, usage, limits, created_at, updated_at, canceled_at FROM subscriptions"

	subscriptionUpsert = func() string {
		cols := providerColumns("_subscription_id")
		set := ""
		for _, p := range billing.AllProviders {
			c := subscriptionColumn(p)
			set += c + " = EXCLUDED." + c + ", "
		}
		return "INSERT INTO subscriptions (user_id, plan, status, active_provider, " + cols +
			", current_period_end, usage, limits, canceled_at, created_at, updated_at)" +
			" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())" +
			" ON CONFLICT (user_id) DO UPDATE SET plan = EXCLUDED.plan, status = EXCLUDED.status," +
			" active_provider = EXCLUDED.active_provider, " + set +
			"current_period_end = EXCLUDED.current_period_end," +
			" limits = EXCLUDED.limits, canceled_at = EXCLUDED.canceled_at, updated_at = now()" +
			" RETURNING usage, created_at, updated_at"
	}()
)

func scanUser(row pgx.Row) (*billing.User, error) {
	var u billing.User
	ids := make([]*string, len(billing.AllProviders))
	dest := append([]any{&u.ID, &u.Email, &u.Name}, scanTargets(ids)...)
	if err := row.Scan(dest...); err != nil {
		if pg.IsNotFoundError(err) {
			return nil, billing.ErrUserNotFound
		}
		return nil, err
	}
	u.CustomerIDs = providerMap(ids)
	return &u, nil
}

func scanSubscription(row pgx.Row) (*billing.Subscription, error) {
	var (
		s              billing.Subscription
		plan, status   string
		activeProvider string
		periodEnd      *time.Time
	)
	ids := make([]*string, len(billing.AllProviders))

	dest := []any{&s.UserID, &plan, &status, &activeProvider}
	dest = append(dest, scanTargets(ids)...)
	dest = append(dest, &periodEnd, &s.Usage, &s.Limits, &s.CreatedAt, &s.UpdatedAt, &s.CanceledAt)
	if err := row.Scan(dest...); err != nil {
		if pg.IsNotFoundError(err) {
			return nil, billing.ErrSubscriptionNotFound
		}
		return nil, err
	}

	s.Plan = billing.PlanKey(plan)
	s.Status = billing.Status(status)
	s.ActiveProvider = billing.ProviderKind(activeProvider)
	s.SubscriptionIDs = providerMap(ids)
	if periodEnd != nil {
		s.CurrentPeriodEnd = periodEnd.UTC()
	}
	return &s, nil
}

// EnsureUser inserts the user or refreshes its email and name. Customer ids
// are only ever written through SetCustomerID.
func (r *Repository) EnsureUser(ctx context.Context, u billing.User) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO billing_users (id, email, name) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, name = EXCLUDED.name, updated_at = now()
		 WHERE billing_users.email IS DISTINCT FROM EXCLUDED.email OR billing_users.name IS DISTINCT FROM EXCLUDED.name`,
		u.ID, u.Email, u.Name)
	if err != nil {
		return fmt.Errorf("ensure billing user: %w", err)
	}
	return nil
}

func (r *Repository) UserByID(ctx context.Context, id uuid.UUID) (*billing.User, error) {
	return scanUser(r.pool.QueryRow(ctx, userSelect+" WHERE id = $1", id))
}

func (r *Repository) UserByCustomerID(ctx context.Context, provider billing.ProviderKind, customerID string) (*billing.User, error) {
	if !provider.Valid() {
		return nil, billing.ErrUnknownProvider
	}
	if customerID == "" {
		return nil, billing.ErrUserNotFound
	}
	return scanUser(r.pool.QueryRow(ctx, userSelect+" WHERE "+customerColumn(provider)+" = $1", customerID))
}

// SetCustomerID is a single compare-and-set statement: the row lock taken by
// UPDATE makes concurrent callers observe the first stored id.
func (r *Repository) SetCustomerID(ctx context.Context, userID uuid.UUID, provider billing.ProviderKind, customerID string) (string, error) {
	if !provider.Valid() {
		return "", billing.ErrUnknownProvider
	}
	if customerID == "" {
		return "", billing.ErrMissingCustomerID
	}
	col := customerColumn(provider)

	var stored string
	err := r.pool.QueryRow(ctx,
		"UPDATE billing_users SET "+col+" = COALESCE(NULLIF("+col+", ''), $2), updated_at = now()"+
			" WHERE id = $1 RETURNING "+col,
		userID, customerID,
	).Scan(&stored)
	switch {
	case err == nil:
		return stored, nil
	case pg.IsNotFoundError(err):
		return "", billing.ErrUserNotFound
	case pg.IsDuplicateKeyError(err):
		return "", billing.ErrCustomerIDConflict
	default:
		return "", err
	}
}

func (r *Repository) SubscriptionByUserID(ctx context.Context, userID uuid.UUID) (*billing.Subscription, error) {
	return scanSubscription(r.pool.QueryRow(ctx, subscriptionSelect+" WHERE user_id = $1", userID))
}

// UpdateSubscription locks the user row for the duration of fn, so
// concurrent webhook deliveries for one user are applied one at a time.
// Usage is only written when the row is inserted; counters are maintained
// by the application outside this lock.
func (r *Repository) UpdateSubscription(ctx context.Context, userID uuid.UUID, fn billing.UpdateFunc) (*billing.Subscription, error) {
	var result *billing.Subscription

	err := pg.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var locked uuid.UUID
		if err := tx.QueryRow(ctx, "SELECT id FROM billing_users WHERE id = $1 FOR UPDATE", userID).Scan(&locked); err != nil {
			if pg.IsNotFoundError(err) {
				return billing.ErrUserNotFound
			}
			return err
		}

		current, err := scanSubscription(tx.QueryRow(ctx, subscriptionSelect+" WHERE user_id = $1", userID))
		if err != nil && !errors.Is(err, billing.ErrSubscriptionNotFound) {
			return err
		}

		next, err := fn(current.Clone())
		if err != nil {
			return err
		}
		if next == nil {
			result = current
			return nil
		}

		next = next.Clone()
		next.UserID = userID
		args := []any{userID, string(next.Plan), string(next.Status), string(next.ActiveProvider)}
		for _, p := range billing.AllProviders {
			args = append(args, nullable(next.SubscriptionIDs[p]))
		}
		var periodEnd *time.Time
		if !next.CurrentPeriodEnd.IsZero() {
			t := next.CurrentPeriodEnd.UTC()
			periodEnd = &t
		}
		args = append(args, periodEnd, next.Usage, next.Limits, next.CanceledAt)

		if err := tx.QueryRow(ctx, subscriptionUpsert, args...).Scan(&next.Usage, &next.CreatedAt, &next.UpdatedAt); err != nil {
			if pg.IsDuplicateKeyError(err) {
				return errors.Join(billing.ErrSubscriptionIDConflict, err)
			}
			return fmt.Errorf("upsert subscription: %w", err)
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
