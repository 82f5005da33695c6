package subscription

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	billing "github.com/dmitrymomot/billsync/pkg/subscription"
)

// UsageCounter counts completed usage records for users on the free tier.
type UsageCounter struct {
	pool *pgxpool.Pool
}

var _ billing.UsageCounter = (*UsageCounter)(nil)

func NewUsageCounter(pool *pgxpool.Pool) *UsageCounter {
	if pool == nil {
		panic("subscription: pool is required")
	}
	return &UsageCounter{pool: pool}
}

func (c *UsageCounter) CountUsage(ctx context.Context, userID uuid.UUID) (billing.Limits, error) {
	var used billing.Limits

	rows, err := c.pool.Query(ctx,
		`SELECT resource, count(*) FROM usage_records
		 WHERE user_id = $1 AND status = 'completed'
		 GROUP BY resource`, userID)
	if err != nil {
		return used, fmt.Errorf("count usage: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			resource string
			n        int64
		)
		if err := rows.Scan(&resource, &n); err != nil {
			return used, fmt.Errorf("scan usage: %w", err)
		}
		used.Set(billing.Resource(resource), n)
	}
	return used, rows.Err()
}

// RecordUsage appends a completed usage record.
func (c *UsageCounter) RecordUsage(ctx context.Context, userID uuid.UUID, resource billing.Resource) error {
	if _, err := c.pool.Exec(ctx,
		"INSERT INTO usage_records (user_id, resource) VALUES ($1, $2)", userID, string(resource)); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}
