// Package config loads the billsync process configuration from the
// environment, optionally seeded from .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/dmitrymomot/billsync/pkg/httpserver"
	"github.com/dmitrymomot/billsync/pkg/jwt"
	"github.com/dmitrymomot/billsync/pkg/logger"
	"github.com/dmitrymomot/billsync/pkg/pg"
	"github.com/dmitrymomot/billsync/pkg/ratelimiter"
	"github.com/dmitrymomot/billsync/pkg/redis"
	"github.com/dmitrymomot/billsync/pkg/subscription"
)

var (
	ErrParsingConfig = errors.New("failed to parse environment variables into config")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// App holds process-wide settings.
type App struct {
	Name     string     `env:"APP_NAME" envDefault:"billsync"`
	Env      string     `env:"APP_ENV" envDefault:"development"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`

	// LogFormat overrides the environment preset: "json" or "text".
	LogFormat string `env:"LOG_FORMAT"`
}

// Billing holds reconciliation and provider-call settings.
type Billing struct {
	PortalOrder      []string      `env:"BILLING_PORTAL_ORDER" envSeparator:"," envDefault:"stripe,lemonsqueezy,dodo,paddle"`
	DefaultProvider  string        `env:"BILLING_DEFAULT_PROVIDER" envDefault:"lemonsqueezy"`
	ProviderTimeout  time.Duration `env:"BILLING_PROVIDER_TIMEOUT" envDefault:"10s"`
	SuccessURL       string        `env:"BILLING_SUCCESS_URL"`
	CancelURL        string        `env:"BILLING_CANCEL_URL"`
	CatalogPath      string        `env:"BILLING_CATALOG_PATH"` // overrides the embedded catalog
	EventTTL         time.Duration `env:"BILLING_EVENT_TTL" envDefault:"72h"`
	BreakerThreshold int           `env:"BILLING_BREAKER_THRESHOLD" envDefault:"5"`
	BreakerCooldown  time.Duration `env:"BILLING_BREAKER_COOLDOWN" envDefault:"30s"`
	MaxWebhookBytes  int64         `env:"BILLING_MAX_WEBHOOK_BYTES" envDefault:"1048576"`
}

// Config is the aggregate configuration of the billsync daemon.
type Config struct {
	App     App
	HTTP    httpserver.Config
	PG      pg.Config
	Redis   redis.Config
	JWT     jwt.Config
	Billing Billing

	// RateLimit bounds checkout and sync calls per user.
	RateLimit ratelimiter.Config `envPrefix:"BILLING_RATE_LIMIT_"`

	Stripe       subscription.StripeConfig       `envPrefix:"STRIPE_"`
	LemonSqueezy subscription.LemonSqueezyConfig `envPrefix:"LEMONSQUEEZY_"`
	Dodo         subscription.DodoConfig         `envPrefix:"DODO_"`
	Paddle       subscription.PaddleConfig       `envPrefix:"PADDLE_"`
}

// Load reads the given .env files (".env" when none are named; missing files
// are skipped) without overriding variables already set, then parses and
// validates the environment.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Join(ErrParsingConfig, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, errors.Join(ErrParsingConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field settings env tags cannot express.
func (c *Config) Validate() error {
	if _, err := c.PortalOrder(); err != nil {
		return errors.Join(ErrInvalidConfig, err)
	}
	def, err := subscription.ParseProviderKind(c.Billing.DefaultProvider)
	if err != nil {
		return errors.Join(ErrInvalidConfig, err)
	}
	if !c.enabled(def) {
		return errors.Join(ErrInvalidConfig,
			fmt.Errorf("default checkout provider %q has no credentials", def))
	}
	switch logger.Format(c.App.LogFormat) {
	case "", logger.FormatJSON, logger.FormatText:
	default:
		return errors.Join(ErrInvalidConfig, fmt.Errorf("LOG_FORMAT %q is neither json nor text", c.App.LogFormat))
	}
	if c.Billing.ProviderTimeout <= 0 {
		return errors.Join(ErrInvalidConfig, errors.New("BILLING_PROVIDER_TIMEOUT must be positive"))
	}
	return nil
}

// PortalOrder returns the configured provider priority for portal lookups.
func (c *Config) PortalOrder() ([]subscription.ProviderKind, error) {
	order := make([]subscription.ProviderKind, 0, len(c.Billing.PortalOrder))
	seen := make(map[subscription.ProviderKind]bool)
	for _, name := range c.Billing.PortalOrder {
		if strings.TrimSpace(name) == "" {
			continue
		}
		p, err := subscription.ParseProviderKind(name)
		if err != nil {
			return nil, err
		}
		if seen[p] {
			return nil, fmt.Errorf("provider %q listed twice in BILLING_PORTAL_ORDER", p)
		}
		seen[p] = true
		order = append(order, p)
	}
	return order, nil
}

// DefaultProvider returns the validated default checkout provider.
func (c *Config) DefaultProvider() subscription.ProviderKind {
	p, _ := subscription.ParseProviderKind(c.Billing.DefaultProvider)
	return p
}

func (c *Config) enabled(p subscription.ProviderKind) bool {
	switch p {
	case subscription.ProviderStripe:
		return c.Stripe.Enabled()
	case subscription.ProviderLemonSqueezy:
		return c.LemonSqueezy.Enabled()
	case subscription.ProviderDodo:
		return c.Dodo.Enabled()
	case subscription.ProviderPaddle:
		return c.Paddle.Enabled()
	}
	return false
}

// Catalog loads the plan catalog from Billing.CatalogPath, or the embedded
// default when no path is set.
func (c *Config) Catalog() (*subscription.Catalog, error) {
	if c.Billing.CatalogPath == "" {
		return subscription.DefaultCatalog()
	}
	data, err := os.ReadFile(c.Billing.CatalogPath)
	if err != nil {
		return nil, errors.Join(subscription.ErrFailedToLoadPlans, err)
	}
	return subscription.ParseCatalog(data)
}

// Providers constructs an adapter for every provider that has credentials.
func (c *Config) Providers() ([]subscription.Provider, error) {
	var out []subscription.Provider

	if c.Stripe.Enabled() {
		p, err := subscription.NewStripeProvider(c.Stripe)
		if err != nil {
			return nil, fmt.Errorf("stripe: %w", err)
		}
		out = append(out, p)
	}
	if c.LemonSqueezy.Enabled() {
		p, err := subscription.NewLemonSqueezyProvider(c.LemonSqueezy, nil)
		if err != nil {
			return nil, fmt.Errorf("lemonsqueezy: %w", err)
		}
		out = append(out, p)
	}
	if c.Dodo.Enabled() {
		p, err := subscription.NewDodoProvider(c.Dodo)
		if err != nil {
			return nil, fmt.Errorf("dodo: %w", err)
		}
		out = append(out, p)
	}
	if c.Paddle.Enabled() {
		p, err := subscription.NewPaddleProvider(c.Paddle)
		if err != nil {
			return nil, fmt.Errorf("paddle: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}
