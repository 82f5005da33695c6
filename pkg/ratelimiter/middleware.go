package ratelimiter

import (
	"net/http"
	"strconv"
)

// KeyFunc extracts the bucket key from a request. An empty key skips
// limiting.
type KeyFunc func(r *http.Request) string

type MiddlewareConfig struct {
	Bucket *Bucket
	Key    KeyFunc
	// Limited writes the 429 response. Defaults to a plain-text 429.
	Limited func(w http.ResponseWriter, r *http.Request, res Result)
	// OnError is called when the store fails; the request is let through.
	OnError func(r *http.Request, err error)
}

func Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	if cfg.Bucket == nil || cfg.Key == nil {
		panic("ratelimiter: bucket and key func are required")
	}
	if cfg.Limited == nil {
		cfg.Limited = func(w http.ResponseWriter, _ *http.Request, _ Result) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := cfg.Key(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			res, err := cfg.Bucket.Allow(r.Context(), key)
			if err != nil {
				if cfg.OnError != nil {
					cfg.OnError(r, err)
				}
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
			if !res.Allowed {
				secs := int(res.RetryAfter().Seconds())
				h.Set("Retry-After", strconv.Itoa(max(secs, 1)))
				cfg.Limited(w, r, res)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
