package subscription

import (
	"strings"

	billing "github.com/dmitrymomot/billsync/pkg/subscription"
)

// Column names are derived from the closed provider set, never from input.
func customerColumn(p billing.ProviderKind) string     { return string(p) + "_customer_id" }
func subscriptionColumn(p billing.ProviderKind) string { return string(p) + "_subscription_id" }

func providerColumns(suffix string) string {
	cols := make([]string, len(billing.AllProviders))
	for i, p := range billing.AllProviders {
		cols[i] = string(p) + suffix
	}
	return strings.Join(cols, ", ")
}

// nullable maps "" to NULL so unique constraints ignore empty slots.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func providerMap(values []*string) map[billing.ProviderKind]string {
	out := make(map[billing.ProviderKind]string, len(values))
	for i, p := range billing.AllProviders {
		if values[i] != nil && *values[i] != "" {
			out[p] = *values[i]
		}
	}
	return out
}

func scanTargets(values []*string) []any {
	out := make([]any, len(values))
	for i := range values {
		out[i] = &values[i]
	}
	return out
}
