// Package limiter implements the admission-control primitives: a tiered
// sliding-window rate limiter and a per-key circuit breaker. Both are pure
// mechanisms; HTTP wiring lives in internal/api/middleware.
package limiter

import (
	"context"
	"time"
)

// Tier classifies how a request identified itself. Higher tiers receive a
// limit multiplier over the anonymous base limit.
type Tier int

const (
	TierAnonymous Tier = iota
	TierUser
	TierAPIKey
)

// Multiplier returns the factor applied to the base limit for this tier.
func (t Tier) Multiplier() int {
	switch t {
	case TierUser:
		return 2
	case TierAPIKey:
		return 5
	default:
		return 1
	}
}

func (t Tier) String() string {
	switch t {
	case TierUser:
		return "user"
	case TierAPIKey:
		return "api_key"
	default:
		return "anonymous"
	}
}

// Identity is the resolved client identity a request is limited by.
type Identity struct {
	Key  string
	Tier Tier
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Current    int
	Limit      int
	RetryAfter time.Duration
}

// WindowStore records request instants per key. Implementations must be safe
// for concurrent use.
type WindowStore interface {
	// Take prunes instants older than cutoff, then either records now and
	// returns the new count (recorded=true), or — when the pruned count has
	// already reached limit — returns the count and the oldest remaining
	// instant without recording.
	Take(ctx context.Context, key string, cutoff, now time.Time, limit int) (count int, oldest time.Time, recorded bool, err error)

	// Reset drops all recorded instants for a key.
	Reset(ctx context.Context, key string) error
}

// SlidingWindow gates requests by identity over a trailing time window.
type SlidingWindow struct {
	store  WindowStore
	window time.Duration
	limit  int
	burst  int
	now    func() time.Time
}

// NewSlidingWindow creates a limiter allowing limit requests per window for
// anonymous identities, before tier multiplication. burst is added after the
// multiplier.
func NewSlidingWindow(store WindowStore, limit int, window time.Duration, burst int) *SlidingWindow {
	return &SlidingWindow{
		store:  store,
		window: window,
		limit:  limit,
		burst:  burst,
		now:    time.Now,
	}
}

// Allow runs the sliding-window check for one request.
func (l *SlidingWindow) Allow(ctx context.Context, id Identity) (Decision, error) {
	limit := l.limit*id.Tier.Multiplier() + l.burst
	now := l.now()
	cutoff := now.Add(-l.window)

	count, oldest, recorded, err := l.store.Take(ctx, id.Key, cutoff, now, limit)
	if err != nil {
		return Decision{}, err
	}
	if !recorded {
		retry := oldest.Add(l.window).Sub(now)
		if retry < time.Second {
			retry = time.Second
		}
		return Decision{Allowed: false, Current: count, Limit: limit, RetryAfter: retry}, nil
	}
	return Decision{Allowed: true, Current: count, Limit: limit}, nil
}

// Reset drops the recorded window for a key (administrative use).
func (l *SlidingWindow) Reset(ctx context.Context, id Identity) error {
	return l.store.Reset(ctx, id.Key)
}
