package subscription_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billsync/internal/db/migrations"
	"github.com/dmitrymomot/billsync/pkg/pg"
	billing "github.com/dmitrymomot/billsync/pkg/subscription"
	"github.com/dmitrymomot/billsync/svc/subscription"
)

// testPool connects to PG_TEST_URL and applies the billing migrations.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv("PG_TEST_URL")
	if url == "" {
		t.Skip("PG_TEST_URL is not set")
	}

	ctx := context.Background()
	cfg := pg.Config{
		ConnectionString: url,
		MaxOpenConns:     10,
		MaxIdleConns:     1,
		RetryAttempts:    1,
		RetryInterval:    time.Second,
		MigrationsTable:  "billing_schema_migrations",
	}
	pool, err := pg.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pg.Migrate(ctx, pool, cfg, migrations.FS, slog.New(slog.DiscardHandler)))
	return pool
}

func newUser(t *testing.T, repo *subscription.Repository) billing.User {
	t.Helper()
	u := billing.User{ID: uuid.New(), Email: "user@example.com", Name: "User"}
	require.NoError(t, repo.EnsureUser(context.Background(), u))
	return u
}

func TestRepository_CustomerIDs(t *testing.T) {
	pool := testPool(t)
	repo := subscription.NewRepository(pool)
	ctx := context.Background()

	u := newUser(t, repo)
	other := newUser(t, repo)
	customerID := "cus_" + uuid.NewString()

	stored, err := repo.SetCustomerID(ctx, u.ID, billing.ProviderStripe, customerID)
	require.NoError(t, err)
	assert.Equal(t, customerID, stored)

	stored, err = repo.SetCustomerID(ctx, u.ID, billing.ProviderStripe, "cus_later")
	require.NoError(t, err)
	assert.Equal(t, customerID, stored, "first stored id wins")

	_, err = repo.SetCustomerID(ctx, other.ID, billing.ProviderStripe, customerID)
	assert.ErrorIs(t, err, billing.ErrCustomerIDConflict)

	found, err := repo.UserByCustomerID(ctx, billing.ProviderStripe, customerID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)
	assert.Equal(t, customerID, found.CustomerID(billing.ProviderStripe))
	assert.Empty(t, found.CustomerID(billing.ProviderDodo))

	_, err = repo.UserByCustomerID(ctx, billing.ProviderDodo, customerID)
	assert.ErrorIs(t, err, billing.ErrUserNotFound)

	_, err = repo.SetCustomerID(ctx, uuid.New(), billing.ProviderDodo, "cus_x")
	assert.ErrorIs(t, err, billing.ErrUserNotFound)
}

func TestRepository_UpdateSubscription(t *testing.T) {
	pool := testPool(t)
	repo := subscription.NewRepository(pool)
	ctx := context.Background()
	u := newUser(t, repo)

	_, err := repo.SubscriptionByUserID(ctx, u.ID)
	require.ErrorIs(t, err, billing.ErrSubscriptionNotFound)

	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	subID := "sub_" + uuid.NewString()
	created, err := repo.UpdateSubscription(ctx, u.ID, func(cur *billing.Subscription) (*billing.Subscription, error) {
		assert.Nil(t, cur)
		s := billing.NewSubscription(u.ID)
		s.Plan = billing.PlanPro
		s.Status = billing.StatusActive
		s.ActiveProvider = billing.ProviderStripe
		s.SubscriptionIDs[billing.ProviderStripe] = subID
		s.CurrentPeriodEnd = end
		s.Limits = billing.Limits{Analyses: 100, Keywords: 500, Competitors: 10, SerpTrackings: 50, ContentOptimizations: 20, Audits: 5}
		s.Usage = billing.Limits{Analyses: 3}
		return s, nil
	})
	require.NoError(t, err)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := repo.SubscriptionByUserID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.PlanPro, got.Plan)
	assert.Equal(t, billing.StatusActive, got.Status)
	assert.Equal(t, subID, got.SubscriptionID(billing.ProviderStripe))
	assert.True(t, got.CurrentPeriodEnd.Equal(end))
	assert.Equal(t, int64(3), got.Usage.Analyses)
	assert.Equal(t, int64(500), got.Limits.Keywords)
	assert.Nil(t, got.CanceledAt)

	t.Run("nil result leaves record untouched", func(t *testing.T) {
		same, err := repo.UpdateSubscription(ctx, u.ID, func(*billing.Subscription) (*billing.Subscription, error) {
			return nil, nil
		})
		require.NoError(t, err)
		assert.Equal(t, got.UpdatedAt, same.UpdatedAt)
	})

	t.Run("cancel clears nothing but status", func(t *testing.T) {
		at := time.Now().UTC()
		_, err := repo.UpdateSubscription(ctx, u.ID, func(cur *billing.Subscription) (*billing.Subscription, error) {
			cur.Status = billing.StatusCanceled
			cur.CanceledAt = &at
			return cur, nil
		})
		require.NoError(t, err)

		got, err := repo.SubscriptionByUserID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusCanceled, got.Status)
		require.NotNil(t, got.CanceledAt)
		assert.Equal(t, int64(3), got.Usage.Analyses)
	})

	t.Run("update keeps concurrent usage increments", func(t *testing.T) {
		_, err := repo.UpdateSubscription(ctx, u.ID, func(cur *billing.Subscription) (*billing.Subscription, error) {
			_, err := pool.Exec(ctx,
				`UPDATE subscriptions SET usage = jsonb_set(usage, '{analyses}', to_jsonb(COALESCE((usage->>'analyses')::bigint, 0) + 1))
				 WHERE user_id = $1`, u.ID)
			require.NoError(t, err)
			cur.Plan = billing.PlanAgency
			cur.Usage = billing.Limits{}
			return cur, nil
		})
		require.NoError(t, err)

		got, err := repo.SubscriptionByUserID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.PlanAgency, got.Plan)
		assert.Equal(t, int64(4), got.Usage.Analyses)
	})

	t.Run("subscription id owned by another user", func(t *testing.T) {
		other := newUser(t, repo)
		_, err := repo.UpdateSubscription(ctx, other.ID, func(*billing.Subscription) (*billing.Subscription, error) {
			s := billing.NewSubscription(other.ID)
			s.Plan = billing.PlanBasic
			s.Status = billing.StatusActive
			s.ActiveProvider = billing.ProviderStripe
			s.SubscriptionIDs[billing.ProviderStripe] = subID
			return s, nil
		})
		require.ErrorIs(t, err, billing.ErrSubscriptionIDConflict)
		assert.False(t, billing.IsRetryable(err))
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := repo.UpdateSubscription(ctx, uuid.New(), func(*billing.Subscription) (*billing.Subscription, error) {
			return billing.NewSubscription(uuid.Nil), nil
		})
		assert.ErrorIs(t, err, billing.ErrUserNotFound)
	})
}

func TestRepository_UpdateSubscriptionSerialisesPerUser(t *testing.T) {
	pool := testPool(t)
	repo := subscription.NewRepository(pool)
	ctx := context.Background()
	u := newUser(t, repo)

	const workers = 10
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.UpdateSubscription(ctx, u.ID, func(cur *billing.Subscription) (*billing.Subscription, error) {
				if cur == nil {
					cur = billing.NewSubscription(u.ID)
					cur.Plan = billing.PlanBasic
					cur.Status = billing.StatusActive
				}
				cur.Limits.Analyses++
				return cur, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := repo.SubscriptionByUserID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(workers), got.Limits.Analyses)
}

func TestUsageCounter(t *testing.T) {
	pool := testPool(t)
	repo := subscription.NewRepository(pool)
	counter := subscription.NewUsageCounter(pool)
	ctx := context.Background()
	u := newUser(t, repo)

	require.NoError(t, counter.RecordUsage(ctx, u.ID, billing.ResourceAnalyses))
	require.NoError(t, counter.RecordUsage(ctx, u.ID, billing.ResourceAnalyses))
	require.NoError(t, counter.RecordUsage(ctx, u.ID, billing.ResourceKeywords))

	used, err := counter.CountUsage(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), used.Analyses)
	assert.Equal(t, int64(1), used.Keywords)
	assert.Zero(t, used.Audits)
}

func TestNewRepository_PanicsWithoutPool(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { subscription.NewRepository(nil) })
	assert.Panics(t, func() { subscription.NewUsageCounter(nil) })
	assert.Panics(t, func() { subscription.NewEventLog(nil, "", 0) })
}
