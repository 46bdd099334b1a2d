package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisWindows is a WindowStore backed by Redis sorted sets, for deployments
// that want limiter state shared across restarts or replicas. Scores are
// unix milliseconds.
type RedisWindows struct {
	client *redis.Client
}

// NewRedisWindows creates a RedisWindows from a Redis URL.
func NewRedisWindows(redisURL string) (*RedisWindows, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisWindows{client: redis.NewClient(opts)}, nil
}

// NewRedisWindowsFromClient wraps an existing client (used in tests).
func NewRedisWindowsFromClient(client *redis.Client) *RedisWindows {
	return &RedisWindows{client: client}
}

func (s *RedisWindows) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisWindows) Close() error {
	return s.client.Close()
}

func (s *RedisWindows) Take(ctx context.Context, key string, cutoff, now time.Time, limit int) (int, time.Time, bool, error) {
	rkey := windowKey(key)

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, rkey, "-inf", fmt.Sprintf("(%d", cutoff.UnixMilli()))
	card := pipe.ZCard(ctx, rkey)
	first := pipe.ZRangeWithScores(ctx, rkey, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, false, err
	}

	count := int(card.Val())
	oldest := now
	if members := first.Val(); len(members) > 0 {
		oldest = time.UnixMilli(int64(members[0].Score))
	}

	if count >= limit {
		return count, oldest, false, nil
	}

	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString()[:8])
	add := s.client.TxPipeline()
	add.ZAdd(ctx, rkey, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	add.Expire(ctx, rkey, 2*now.Sub(cutoff))
	if _, err := add.Exec(ctx); err != nil {
		return 0, time.Time{}, false, err
	}
	if count == 0 {
		oldest = now
	}
	return count + 1, oldest, true, nil
}

func (s *RedisWindows) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, windowKey(key)).Err()
}

func windowKey(key string) string {
	return "ratelimit:" + key
}
