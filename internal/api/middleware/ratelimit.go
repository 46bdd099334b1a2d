package middleware

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/kadrio/idphoto/internal/api/response"
	"github.com/kadrio/idphoto/internal/limiter"
)

// RateLimit applies sliding-window rate limiting keyed by the resolved
// client identity.
type RateLimit struct {
	limiter *limiter.SlidingWindow
}

// NewRateLimit creates a RateLimit middleware.
func NewRateLimit(l *limiter.SlidingWindow) *RateLimit {
	return &RateLimit{limiter: l}
}

// Limit gates the request. The current/max counters travel on the response
// headers for both accepted and rejected requests.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := GetIdentity(r)
		if !ok {
			// No identity means ResolveIdentity didn't run; pass through
			next.ServeHTTP(w, r)
			return
		}

		d, err := rl.limiter.Allow(r.Context(), id)
		if err != nil {
			// On a window-store error, allow the request (fail open)
			slog.Error("rate limit check failed", "key", id.Key, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		remaining := d.Limit - d.Current
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(d.RetryAfter).Unix()))

		if !d.Allowed {
			retrySecs := int(math.Ceil(d.RetryAfter.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(retrySecs))
			slog.Warn("rate limit exceeded", "key", id.Key, "tier", id.Tier.String(),
				"current", d.Current, "limit", d.Limit)
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", map[string]any{
					"retry_after":      retrySecs,
					"current_requests": d.Current,
					"max_requests":     d.Limit,
				})
			return
		}

		next.ServeHTTP(w, r)
	})
}
