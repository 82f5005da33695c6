package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/billsync/internal/config"
	"github.com/dmitrymomot/billsync/internal/db/migrations"
	"github.com/dmitrymomot/billsync/modules/billing"
	"github.com/dmitrymomot/billsync/pkg/circuit"
	"github.com/dmitrymomot/billsync/pkg/httpserver"
	"github.com/dmitrymomot/billsync/pkg/jwt"
	"github.com/dmitrymomot/billsync/pkg/logger"
	"github.com/dmitrymomot/billsync/pkg/pg"
	"github.com/dmitrymomot/billsync/pkg/ratelimiter"
	"github.com/dmitrymomot/billsync/pkg/redis"
	"github.com/dmitrymomot/billsync/pkg/subscription"
	store "github.com/dmitrymomot/billsync/svc/subscription"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg, log)
	},
}

func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	pool, err := pg.Connect(ctx, cfg.PG)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, cfg.PG, migrations.FS, log); err != nil {
		return err
	}

	rdb, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error("close redis client", logger.Error(err))
		}
	}()

	catalog, err := cfg.Catalog()
	if err != nil {
		return err
	}
	providers, err := cfg.Providers()
	if err != nil {
		return err
	}
	if len(providers) == 0 {
		return errors.New("no billing provider configured")
	}
	order, err := cfg.PortalOrder()
	if err != nil {
		return err
	}
	tokens, err := jwt.New(cfg.JWT)
	if err != nil {
		return err
	}

	limiter, err := ratelimiter.NewBucket(ratelimiter.NewRedisStore(rdb, cfg.Redis.KeyPrefix), cfg.RateLimit)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := billing.NewMetrics(reg)

	repo := store.NewRepository(pool)
	breakers := circuit.NewGroup(
		circuit.WithFailureThreshold(cfg.Billing.BreakerThreshold),
		circuit.WithCooldown(cfg.Billing.BreakerCooldown),
	)
	svc := subscription.NewService(repo, catalog, subscription.NewRegistry(providers...),
		subscription.WithLogger(log),
		subscription.WithEventLog(store.NewEventLog(rdb, cfg.Redis.KeyPrefix, cfg.Billing.EventTTL)),
		subscription.WithUsageCounter(store.NewUsageCounter(pool)),
		subscription.WithProviderTimeout(cfg.Billing.ProviderTimeout),
		subscription.WithPortalOptions(
			subscription.WithPortalOrder(order...),
			subscription.WithPortalTimeout(cfg.Billing.ProviderTimeout),
			subscription.WithPortalBreakers(breakers),
			subscription.WithFallbackRecorder(metrics),
		),
		subscription.WithCheckoutOptions(
			subscription.WithDefaultProvider(cfg.DefaultProvider()),
			subscription.WithReturnURLs(cfg.Billing.SuccessURL, cfg.Billing.CancelURL),
		),
	)

	enabled := make([]string, 0, len(providers))
	for _, p := range providers {
		enabled = append(enabled, string(p.Kind()))
	}
	log.Info("billing providers enabled",
		slog.Any("providers", enabled),
		logger.Provider(string(cfg.DefaultProvider())),
		slog.Int("plans", len(catalog.Plans())),
	)

	webhooks := billing.NewWebhookHandler(svc,
		billing.WithWebhookLogger(log),
		billing.WithWebhookMetrics(metrics),
		billing.WithMaxWebhookBytes(cfg.Billing.MaxWebhookBytes),
	)
	api := billing.NewHandler(svc, repo, tokens,
		billing.WithLogger(log),
		billing.WithMetrics(metrics),
		billing.WithRateLimit(limiter),
	)
	ready := httpserver.ReadinessHandler(log, 5*time.Second,
		httpserver.Check{Name: "postgres", Fn: pg.Healthcheck(pool)},
		httpserver.Check{Name: "redis", Fn: redis.Healthcheck(rdb)},
	)

	router := billing.Router(billing.RouterOptions{
		Logger:    log,
		Webhooks:  webhooks,
		Billing:   api,
		Liveness:  httpserver.LivenessHandler(),
		Readiness: ready,
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))
	if err := srv.Run(ctx, router); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
