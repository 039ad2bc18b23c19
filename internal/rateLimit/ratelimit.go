package rateLimit

import (
	"context"
	"strconv"
	"time"

	redisadapter "github.com/robertarktes/seat-booking/internal/adapters/redis"
)

type RateLimiter struct {
	redis *redisadapter.Cache
	now   func() time.Time
}

func NewRateLimiter(redis *redisadapter.Cache) *RateLimiter {
	return &RateLimiter{redis: redis, now: time.Now}
}

// Allow counts a request against key in fixed windows of period. The caller
// decides what to do when Redis fails.
func (rl *RateLimiter) Allow(ctx context.Context, key string, rate int, period time.Duration) (bool, error) {
	window := rl.now().UnixNano() / int64(period)
	fullKey := "rl:" + key + ":" + strconv.FormatInt(window, 10)

	pipe := rl.redis.Client().Pipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.Expire(ctx, fullKey, period)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, err
	}

	return incr.Val() <= int64(rate), nil
}
