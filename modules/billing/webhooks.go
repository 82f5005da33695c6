package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/billsync/handler"
	"github.com/dmitrymomot/billsync/pkg/logger"
	"github.com/dmitrymomot/billsync/pkg/subscription"
)

// DefaultMaxWebhookBytes bounds webhook bodies when no limit is configured.
const DefaultMaxWebhookBytes int64 = 1 << 20

// WebhookProcessor verifies and reconciles a raw provider delivery.
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, provider string, body []byte, header http.Header) (*subscription.WebhookOutcome, error)
}

// WebhookHandler serves POST /webhooks/{provider}.
type WebhookHandler struct {
	processor WebhookProcessor
	metrics   *Metrics
	logger    *slog.Logger
	maxBytes  int64
}

type WebhookOption func(*WebhookHandler)

func WithWebhookMetrics(m *Metrics) WebhookOption {
	return func(h *WebhookHandler) { h.metrics = m }
}

func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(h *WebhookHandler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMaxWebhookBytes sets the body limit; larger deliveries get 413.
func WithMaxWebhookBytes(n int64) WebhookOption {
	return func(h *WebhookHandler) {
		if n > 0 {
			h.maxBytes = n
		}
	}
}

func NewWebhookHandler(processor WebhookProcessor, opts ...WebhookOption) *WebhookHandler {
	if processor == nil {
		panic("billing: webhook processor is required")
	}
	h := &WebhookHandler{
		processor: processor,
		logger:    slog.Default(),
		maxBytes:  DefaultMaxWebhookBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type webhookRequest struct {
	Provider string
	Body     []byte
}

type webhookResponse struct {
	Received bool `json:"received"`
}

// Handle returns the router for the webhook endpoint.
func (h *WebhookHandler) Handle() http.Handler {
	r := chi.NewRouter()
	r.Post("/{provider}", handler.Wrap(h.receive,
		handler.WithBinders[webhookRequest](h.bindRaw),
		handler.WithErrorHandler[webhookRequest](handler.NewErrorHandler(h.logger)),
	))
	return r
}

func (h *WebhookHandler) bindRaw(r *http.Request, v any) error {
	req := v.(*webhookRequest)
	req.Provider = chi.URLParam(r, "provider")
	if r.Body == nil {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBytes+1))
	if err != nil {
		return handler.ErrBadRequest.WithMessage("failed to read request body")
	}
	if int64(len(body)) > h.maxBytes {
		return handler.ErrRequestEntityTooLarge
	}
	req.Body = body
	return nil
}

func (h *WebhookHandler) receive(ctx handler.Context, req webhookRequest) handler.Response {
	start := time.Now()
	out, err := h.processor.HandleWebhook(ctx, req.Provider, req.Body, ctx.Request().Header)
	h.observe(req.Provider, out, err, time.Since(start))

	switch {
	case err == nil:
		return handler.JSON(webhookResponse{Received: true})
	case errors.Is(err, subscription.ErrNormalization):
		// Redelivering a payload we cannot parse never succeeds.
		return handler.JSON(webhookResponse{Received: true})
	case errors.Is(err, subscription.ErrSignatureInvalid):
		return handler.Error(errSignature)
	case errors.Is(err, subscription.ErrUnknownProvider), errors.Is(err, subscription.ErrProviderDisabled):
		return handler.Error(errUnknownProvider)
	case subscription.IsRetryable(err):
		h.logger.WarnContext(ctx, "webhook deferred for redelivery",
			logger.Provider(req.Provider),
			logger.Error(err),
		)
		return handler.Error(handler.ErrInternalServerError.WithMessage("Webhook processing failed"))
	default:
		h.logger.ErrorContext(ctx, "webhook dropped",
			logger.Provider(req.Provider),
			logger.Error(err),
		)
		return handler.JSON(webhookResponse{Received: true})
	}
}

func (h *WebhookHandler) observe(provider string, out *subscription.WebhookOutcome, err error, took time.Duration) {
	if h.metrics == nil {
		return
	}
	outcome := "error"
	switch {
	case err == nil && out != nil && out.Duplicate:
		outcome = "duplicate"
	case err == nil && out != nil:
		outcome = string(out.Result)
	case errors.Is(err, subscription.ErrSignatureInvalid):
		outcome = "invalid_signature"
	case errors.Is(err, subscription.ErrNormalization):
		outcome = "normalization_error"
	case errors.Is(err, subscription.ErrUnknownProvider), errors.Is(err, subscription.ErrProviderDisabled):
		// Keep the provider label bounded to known providers.
		provider = "unknown"
		outcome = "unroutable"
	case subscription.IsRetryable(err):
		outcome = "retry"
	}
	h.metrics.Webhook(provider, outcome, took)
}
