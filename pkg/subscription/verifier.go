package subscription

import (
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/billsync/pkg/logger"
)

// Verifier dispatches webhook signature checks to provider adapters.
// It fails closed: unknown or unconfigured providers, empty bodies and
// panicking adapters all count as invalid signatures.
type Verifier struct {
	providers *Registry
	logger    *slog.Logger
}

func NewVerifier(providers *Registry, log *slog.Logger) *Verifier {
	if log == nil {
		log = slog.Default()
	}
	return &Verifier{providers: providers, logger: log}
}

// Verify reports whether body carries a valid signature for provider.
// It runs before any parsing of the body.
func (v *Verifier) Verify(body []byte, header http.Header, provider ProviderKind) (ok bool) {
	if len(body) == 0 || header == nil {
		return false
	}
	p, err := v.providers.Get(provider)
	if err != nil {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("signature verification panicked",
				logger.Provider(string(provider)),
				slog.Any("panic", r))
			ok = false
		}
	}()
	return p.VerifySignature(body, header)
}
