package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/kadrio/idphoto/internal/api/response"
	"github.com/kadrio/idphoto/internal/limiter"
)

// Breaker short-circuits clients whose requests keep failing downstream,
// shielding the worker pool from being flooded with doomed work.
type Breaker struct {
	breaker *limiter.CircuitBreaker
}

// NewBreaker creates a Breaker middleware.
func NewBreaker(b *limiter.CircuitBreaker) *Breaker {
	return &Breaker{breaker: b}
}

// Protect rejects requests while the client's circuit is open. A downstream
// 5xx counts as a failure; anything else resets the count.
func (cb *Breaker) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := GetIdentity(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		allowed, retryAfter := cb.breaker.Allow(id.Key)
		if !allowed {
			retrySecs := int(math.Ceil(retryAfter.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(retrySecs))
			slog.Warn("circuit open", "key", id.Key, "retry_after", retrySecs)
			response.Error(w, http.StatusServiceUnavailable,
				"SERVICE_UNAVAILABLE", "Too many failures. Please try again later.", map[string]any{
					"retry_after": retrySecs,
				})
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if rec.status >= http.StatusInternalServerError {
			cb.breaker.Failure(id.Key)
		} else {
			cb.breaker.Success(id.Key)
		}
	})
}
