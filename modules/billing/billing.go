package billing

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/billsync/handler"
	"github.com/dmitrymomot/billsync/pkg/jwt"
	"github.com/dmitrymomot/billsync/pkg/logger"
	"github.com/dmitrymomot/billsync/pkg/ratelimiter"
	"github.com/dmitrymomot/billsync/pkg/subscription"
)

// Billing is the user-facing subset of subscription.Service.
type Billing interface {
	StartCheckout(ctx context.Context, userID uuid.UUID, plan subscription.PlanKey, opts subscription.CheckoutOptions) (*subscription.CheckoutSession, error)
	PortalURL(ctx context.Context, userID uuid.UUID) (string, error)
	Usage(ctx context.Context, userID uuid.UUID) (*subscription.UsageReport, error)
	Plans() []subscription.Plan
	Sync(ctx context.Context, userID uuid.UUID) (subscription.ReconcileResult, error)
}

// UserProvisioner makes sure the authenticated user exists in the billing
// store before any billing operation runs.
type UserProvisioner interface {
	EnsureUser(ctx context.Context, u subscription.User) error
}

// Handler serves the authenticated /billing endpoints.
type Handler struct {
	billing Billing
	users   UserProvisioner
	tokens  *jwt.Service
	metrics *Metrics
	limiter *ratelimiter.Bucket
	logger  *slog.Logger
}

type HandlerOption func(*Handler)

func WithMetrics(m *Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// WithRateLimit limits checkout and sync calls per user.
func WithRateLimit(b *ratelimiter.Bucket) HandlerOption {
	return func(h *Handler) { h.limiter = b }
}

func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandler panics if any dependency is nil.
func NewHandler(b Billing, users UserProvisioner, tokens *jwt.Service, opts ...HandlerOption) *Handler {
	if b == nil {
		panic("billing: billing service is required")
	}
	if users == nil {
		panic("billing: user provisioner is required")
	}
	if tokens == nil {
		panic("billing: jwt service is required")
	}
	h := &Handler{billing: b, users: users, tokens: tokens, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle returns the router for the billing endpoints.
func (h *Handler) Handle() http.Handler {
	r := chi.NewRouter()
	r.Use(jwt.MiddlewareWithConfig(jwt.MiddlewareConfig{
		Service: h.tokens,
		Unauthorized: func(w http.ResponseWriter, r *http.Request, _ error) {
			_ = handler.Error(handler.ErrUnauthorized).Render(w, r)
		},
	}))
	r.Use(h.provision)

	errs := handler.NewErrorHandler(h.logger)
	r.Get("/portal", handler.Wrap(h.portal, handler.WithErrorHandler[struct{}](errs)))
	r.Get("/usage", handler.Wrap(h.usage, handler.WithErrorHandler[struct{}](errs)))
	r.Get("/plans", handler.Wrap(h.plans, handler.WithErrorHandler[struct{}](errs)))

	// Provider-calling endpoints.
	r.Group(func(r chi.Router) {
		if h.limiter != nil {
			r.Use(h.rateLimit())
		}
		r.Post("/checkout", handler.Wrap(h.checkout,
			handler.WithBinders[checkoutRequest](handler.BindJSON),
			handler.WithErrorHandler[checkoutRequest](errs)))
		r.Post("/sync", handler.Wrap(h.sync, handler.WithErrorHandler[struct{}](errs)))
	})
	return r
}

func (h *Handler) rateLimit() func(http.Handler) http.Handler {
	return ratelimiter.Middleware(ratelimiter.MiddlewareConfig{
		Bucket: h.limiter,
		Key: func(r *http.Request) string {
			id, ok := jwt.UserID(r.Context())
			if !ok {
				return ""
			}
			return "user:" + id.String()
		},
		Limited: func(w http.ResponseWriter, r *http.Request, _ ratelimiter.Result) {
			_ = handler.Error(errRateLimited).Render(w, r)
		},
		OnError: func(r *http.Request, err error) {
			h.logger.WarnContext(r.Context(), "rate limiter unavailable", logger.Error(err))
		},
	})
}

// provision upserts the user from the token claims.
func (h *Handler) provision(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := jwt.GetClaims(r.Context())
		if !ok {
			_ = handler.Error(handler.ErrUnauthorized).Render(w, r)
			return
		}
		id, err := claims.UserID()
		if err != nil {
			_ = handler.Error(handler.ErrUnauthorized).Render(w, r)
			return
		}
		if err := h.users.EnsureUser(r.Context(), subscription.User{ID: id, Email: claims.Email, Name: claims.Name}); err != nil {
			h.logger.ErrorContext(r.Context(), "provision billing user", logger.UserID(id), logger.Error(err))
			_ = handler.Error(errStoreUnavailable).Render(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userID(ctx context.Context) uuid.UUID {
	id, _ := jwt.UserID(ctx)
	return id
}

type checkoutRequest struct {
	PlanKey     string `json:"planKey"`
	Provider    string `json:"provider,omitempty"`
	CustomPrice *int64 `json:"customPrice,omitempty"`
	SuccessURL  string `json:"successUrl,omitempty"`
}

func (req checkoutRequest) validate() (subscription.CheckoutOptions, error) {
	errs := handler.ValidationError{}
	opts := subscription.CheckoutOptions{CustomPrice: req.CustomPrice, SuccessURL: req.SuccessURL}

	if req.PlanKey == "" {
		errs.Add("planKey", "is required")
	}
	if req.Provider != "" {
		kind, err := subscription.ParseProviderKind(req.Provider)
		if err != nil {
			errs.Add("provider", "is not a supported provider")
		}
		opts.Provider = kind
	}
	if req.CustomPrice != nil && *req.CustomPrice <= 0 {
		errs.Add("customPrice", "must be positive")
	}
	if req.SuccessURL != "" {
		u, err := url.Parse(req.SuccessURL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			errs.Add("successUrl", "must be an absolute http(s) URL")
		}
	}
	return opts, errs.OrNil()
}

type checkoutResponse struct {
	CheckoutURL string     `json:"checkoutUrl"`
	CheckoutID  string     `json:"checkoutId"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

func (h *Handler) checkout(ctx handler.Context, req checkoutRequest) handler.Response {
	opts, err := req.validate()
	if err != nil {
		return handler.Error(err)
	}

	session, err := h.billing.StartCheckout(ctx, userID(ctx), subscription.PlanKey(req.PlanKey), opts)
	h.countCheckout(opts.Provider, err)
	if err != nil {
		h.logFailure(ctx, "checkout failed", err, logger.Plan(req.PlanKey))
		return handler.Error(httpError(err))
	}

	resp := checkoutResponse{CheckoutURL: session.URL, CheckoutID: session.SessionID}
	if !session.ExpiresAt.IsZero() {
		resp.ExpiresAt = &session.ExpiresAt
	}
	return handler.JSON(resp)
}

func (h *Handler) countCheckout(kind subscription.ProviderKind, err error) {
	if h.metrics == nil {
		return
	}
	provider := string(kind)
	if provider == "" {
		provider = "default"
	}
	outcome := "created"
	if err != nil {
		outcome = "failed"
	}
	h.metrics.Checkout(provider, outcome)
}

type portalResponse struct {
	URL string `json:"url"`
}

func (h *Handler) portal(ctx handler.Context, _ struct{}) handler.Response {
	u, err := h.billing.PortalURL(ctx, userID(ctx))
	if err != nil {
		h.logFailure(ctx, "portal lookup failed", err)
		return handler.Error(httpError(err))
	}
	return handler.JSON(portalResponse{URL: u})
}

type usageResponse struct {
	Plan                      string `json:"plan"`
	Status                    string `json:"status,omitempty"`
	AnalysesUsed              int64  `json:"analysesUsed"`
	AnalysesLimit             int64  `json:"analysesLimit"`
	KeywordsUsed              int64  `json:"keywordsUsed"`
	KeywordsLimit             int64  `json:"keywordsLimit"`
	CompetitorsUsed           int64  `json:"competitorsUsed"`
	CompetitorsLimit          int64  `json:"competitorsLimit"`
	SerpTrackingsUsed         int64  `json:"serpTrackingsUsed"`
	SerpTrackingsLimit        int64  `json:"serpTrackingsLimit"`
	ContentOptimizationsUsed  int64  `json:"contentOptimizationsUsed"`
	ContentOptimizationsLimit int64  `json:"contentOptimizationsLimit"`
	AuditsUsed                int64  `json:"auditsUsed"`
	AuditsLimit               int64  `json:"auditsLimit"`
}

func newUsageResponse(r *subscription.UsageReport) usageResponse {
	plan := string(r.Plan)
	if plan == "" {
		plan = "free"
	}
	return usageResponse{
		Plan:                      plan,
		Status:                    string(r.Status),
		AnalysesUsed:              r.Usage.Analyses,
		AnalysesLimit:             r.Limits.Analyses,
		KeywordsUsed:              r.Usage.Keywords,
		KeywordsLimit:             r.Limits.Keywords,
		CompetitorsUsed:           r.Usage.Competitors,
		CompetitorsLimit:          r.Limits.Competitors,
		SerpTrackingsUsed:         r.Usage.SerpTrackings,
		SerpTrackingsLimit:        r.Limits.SerpTrackings,
		ContentOptimizationsUsed:  r.Usage.ContentOptimizations,
		ContentOptimizationsLimit: r.Limits.ContentOptimizations,
		AuditsUsed:                r.Usage.Audits,
		AuditsLimit:               r.Limits.Audits,
	}
}

func (h *Handler) usage(ctx handler.Context, _ struct{}) handler.Response {
	report, err := h.billing.Usage(ctx, userID(ctx))
	if err != nil {
		h.logFailure(ctx, "usage lookup failed", err)
		return handler.Error(httpError(err))
	}
	return handler.JSON(newUsageResponse(report))
}

type plansResponse struct {
	Plans []subscription.Plan `json:"plans"`
}

func (h *Handler) plans(_ handler.Context, _ struct{}) handler.Response {
	return handler.JSON(plansResponse{Plans: h.billing.Plans()})
}

type syncResponse struct {
	Result string `json:"result"`
}

func (h *Handler) sync(ctx handler.Context, _ struct{}) handler.Response {
	res, err := h.billing.Sync(ctx, userID(ctx))
	if err != nil {
		h.logFailure(ctx, "subscription sync failed", err)
		return handler.Error(httpError(err))
	}
	return handler.JSON(syncResponse{Result: string(res)})
}

func (h *Handler) logFailure(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	attrs = append(attrs, logger.UserID(userID(ctx)), logger.Error(err))
	h.logger.LogAttrs(ctx, slog.LevelWarn, msg, attrs...)
}
