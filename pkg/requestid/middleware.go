package requestid

import (
	"net/http"
	"regexp"

	"github.com/google/uuid"
)

const (
	Header      = "X-Request-ID"
	maxIDLength = 128
)

// DeliveryHeaders are provider webhook delivery id headers, checked in order
// when the client sent no X-Request-ID.
var DeliveryHeaders = []string{
	"webhook-id",        // Standard Webhooks (Dodo)
	"X-Event-Id",        // LemonSqueezy relays
	"Paddle-Request-Id", // Paddle
}

var validID = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

// Middleware resolves the request id, stores it in the context and echoes it
// in the response header.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := resolve(r.Header)
		w.Header().Set(Header, id)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), id)))
	})
}

func resolve(h http.Header) string {
	if id := h.Get(Header); valid(id) {
		return id
	}
	for _, name := range DeliveryHeaders {
		if id := h.Get(name); valid(id) {
			return id
		}
	}
	return uuid.NewString()
}

func valid(id string) bool {
	return id != "" && len(id) <= maxIDLength && validID.MatchString(id)
}
