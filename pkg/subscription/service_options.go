package subscription

import (
	"log/slog"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// WithLogger sets the logger shared by every component of the service.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEventLog enables delivery dedupe.
func WithEventLog(l EventLog) ServiceOption {
	return func(s *Service) {
		s.events = l
	}
}

// WithUsageCounter sets the source of usage numbers for free-tier users.
func WithUsageCounter(c UsageCounter) ServiceOption {
	return func(s *Service) {
		s.usage = c
	}
}

// WithProviderTimeout bounds every outbound provider call.
func WithProviderTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithEngineOptions(opts ...EngineOption) ServiceOption {
	return func(s *Service) {
		s.engineOpts = append(s.engineOpts, opts...)
	}
}

func WithPortalOptions(opts ...PortalOption) ServiceOption {
	return func(s *Service) {
		s.portalOpts = append(s.portalOpts, opts...)
	}
}

func WithCheckoutOptions(opts ...CheckoutOption) ServiceOption {
	return func(s *Service) {
		s.checkoutOpts = append(s.checkoutOpts, opts...)
	}
}
