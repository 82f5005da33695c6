package subscription

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	billing "github.com/dmitrymomot/billsync/pkg/subscription"
)

// DefaultEventTTL covers the longest provider redelivery window (Stripe
// retries for up to three days).
const DefaultEventTTL = 72 * time.Hour

// EventLog records processed webhook deliveries in Redis.
type EventLog struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ billing.EventLog = (*EventLog)(nil)

// NewEventLog panics if client is nil. A non-positive ttl selects DefaultEventTTL.
func NewEventLog(client redis.UniversalClient, prefix string, ttl time.Duration) *EventLog {
	if client == nil {
		panic("subscription: redis client is required")
	}
	if ttl <= 0 {
		ttl = DefaultEventTTL
	}
	return &EventLog{client: client, prefix: prefix, ttl: ttl}
}

func (l *EventLog) key(provider billing.ProviderKind, eventID string) string {
	return l.prefix + "webhook:" + string(provider) + ":" + eventID
}

func (l *EventLog) Seen(ctx context.Context, provider billing.ProviderKind, eventID string) (bool, error) {
	n, err := l.client.Exists(ctx, l.key(provider, eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Record keeps the first write; a redelivery racing the original is harmless
// because the engine is idempotent.
func (l *EventLog) Record(ctx context.Context, provider billing.ProviderKind, eventID string) error {
	return l.client.SetNX(ctx, l.key(provider, eventID), time.Now().UTC().Unix(), l.ttl).Err()
}
