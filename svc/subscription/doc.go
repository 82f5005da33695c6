// Package subscription provides the PostgreSQL and Redis backed stores used
// by the billing service: the subscription Repository, the webhook delivery
// EventLog and the free tier UsageCounter.
//
// The Repository serialises writes per user by locking the user row with
// SELECT ... FOR UPDATE inside a pgx transaction. Provider customer and
// subscription ids live in one column per provider, each with a unique
// constraint, so a customer id can never be attributed to two users.
package subscription
