package ratelimiter

import (
	"math"
	"net/http"
	"strconv"

	"github.com/Yashkondane/soulhome-official/handler"
	"github.com/Yashkondane/soulhome-official/pkg/metrics"
)

// KeyFunc extracts the bucket key. An empty key bypasses the limiter.
type KeyFunc func(r *http.Request) string

// Middleware rejects requests over the limit with 429 and a JSON envelope.
// scope labels the rejection metric.
func Middleware(l *Limiter, scope string, key KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}

			res := l.Allow(scope + ":" + k)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				metrics.RateLimitedTotal.WithLabelValues(scope).Inc()
				if secs := int(math.Ceil(res.RetryAfter.Seconds())); secs > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(secs))
				}
				_ = handler.JSONError(handler.ErrTooManyRequests).Render(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
