package billing_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billsync/modules/billing"
	"github.com/dmitrymomot/billsync/pkg/subscription"
)

func postWebhook(t *testing.T, h http.Handler, provider, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+provider, strings.NewReader(body))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookHandler_StatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		provider string
		out      *subscription.WebhookOutcome
		err      error
		status   int
		code     string
	}{
		{
			name:     "applied",
			provider: "stripe",
			out:      &subscription.WebhookOutcome{Provider: subscription.ProviderStripe, Result: subscription.ResultCreated},
			status:   http.StatusOK,
		},
		{
			name:     "duplicate",
			provider: "stripe",
			out:      &subscription.WebhookOutcome{Provider: subscription.ProviderStripe, Result: subscription.ResultSkipped, Duplicate: true},
			status:   http.StatusOK,
		},
		{
			name:     "invalid signature",
			provider: "stripe",
			out:      &subscription.WebhookOutcome{Provider: subscription.ProviderStripe},
			err:      subscription.ErrSignatureInvalid,
			status:   http.StatusUnauthorized,
			code:     "invalid_signature",
		},
		{
			name:     "unknown provider",
			provider: "braintree",
			err:      subscription.ErrUnknownProvider,
			status:   http.StatusNotFound,
			code:     "unknown_provider",
		},
		{
			name:     "disabled provider",
			provider: "paddle",
			err:      subscription.ErrProviderDisabled,
			status:   http.StatusNotFound,
			code:     "unknown_provider",
		},
		{
			name:     "normalization failure acknowledged",
			provider: "stripe",
			out:      &subscription.WebhookOutcome{Provider: subscription.ProviderStripe},
			err:      errors.Join(subscription.ErrNormalization, errors.New("bad json")),
			status:   http.StatusOK,
		},
		{
			name:     "store unavailable retried",
			provider: "stripe",
			out:      &subscription.WebhookOutcome{Provider: subscription.ProviderStripe},
			err:      errors.Join(subscription.ErrStoreUnavailable, errors.New("connection refused")),
			status:   http.StatusInternalServerError,
			code:     "internal_error",
		},
		{
			name:     "cancellation ahead of creation retried",
			provider: "lemonsqueezy",
			out:      &subscription.WebhookOutcome{Provider: subscription.ProviderLemonSqueezy},
			err:      subscription.ErrSubscriptionPending,
			status:   http.StatusInternalServerError,
			code:     "internal_error",
		},
		{
			name:     "permanent failure acknowledged",
			provider: "stripe",
			out:      &subscription.WebhookOutcome{Provider: subscription.ProviderStripe},
			err:      errors.Join(subscription.ErrSubscriptionIDConflict, errors.New("duplicate key value")),
			status:   http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			proc := &mockProcessor{}
			proc.On("HandleWebhook", mock.Anything, tt.provider, []byte(`{"id":"evt_1"}`), mock.Anything).Return(tt.out, tt.err)

			router := billing.Router(billing.RouterOptions{Webhooks: billing.NewWebhookHandler(proc)})
			rec := postWebhook(t, router, tt.provider, `{"id":"evt_1"}`)

			assert.Equal(t, tt.status, rec.Code)
			if tt.code != "" {
				var env struct {
					Error struct {
						Code    string `json:"code"`
						Message string `json:"message"`
					} `json:"error"`
				}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
				assert.Equal(t, tt.code, env.Error.Code)
				assert.NotContains(t, env.Error.Message, "connection refused")
			} else {
				assert.JSONEq(t, `{"received":true}`, rec.Body.String())
			}
			proc.AssertExpectations(t)
		})
	}
}

func TestWebhookHandler_BodyLimit(t *testing.T) {
	t.Parallel()

	proc := &mockProcessor{}
	router := billing.Router(billing.RouterOptions{
		Webhooks: billing.NewWebhookHandler(proc, billing.WithMaxWebhookBytes(8)),
	})

	rec := postWebhook(t, router, "stripe", `{"id":"evt_too_long"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	proc.AssertNotCalled(t, "HandleWebhook", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhookHandler_Metrics(t *testing.T) {
	t.Parallel()

	metrics := billing.NewMetrics(prometheus.NewRegistry())
	proc := &mockProcessor{}
	proc.On("HandleWebhook", mock.Anything, "stripe", mock.Anything, mock.Anything).
		Return(&subscription.WebhookOutcome{Provider: subscription.ProviderStripe, Result: subscription.ResultUpdated}, nil).Once()
	proc.On("HandleWebhook", mock.Anything, "nope", mock.Anything, mock.Anything).
		Return(nil, subscription.ErrUnknownProvider).Once()
	proc.On("HandleWebhook", mock.Anything, "dodo", mock.Anything, mock.Anything).
		Return(&subscription.WebhookOutcome{Provider: subscription.ProviderDodo}, subscription.ErrSubscriptionPending).Once()

	router := billing.Router(billing.RouterOptions{
		Webhooks: billing.NewWebhookHandler(proc, billing.WithWebhookMetrics(metrics)),
	})
	postWebhook(t, router, "stripe", `{}`)
	postWebhook(t, router, "nope", `{}`)
	postWebhook(t, router, "dodo", `{}`)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WebhookCounter("stripe", "updated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WebhookCounter("unknown", "unroutable")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.WebhookCounter("nope", "unroutable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WebhookCounter("dodo", "retry")))
}
