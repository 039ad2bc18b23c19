package rateLimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	redisadapter "github.com/robertarktes/seat-booking/internal/adapters/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Allow(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	rl := NewRateLimiter(redisadapter.NewCache(db))
	rl.now = func() time.Time { return time.Unix(120, 0) }

	key := "rl:10.0.0.1:2"
	mock.ExpectIncr(key).SetVal(2)
	mock.ExpectExpire(key, time.Minute).SetVal(true)
	mock.ExpectIncr(key).SetVal(3)
	mock.ExpectExpire(key, time.Minute).SetVal(true)

	ok, err := rl.Allow(ctx, "10.0.0.1", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rl.Allow(ctx, "10.0.0.1", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimiter_RedisError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rl := NewRateLimiter(redisadapter.NewCache(db))
	rl.now = func() time.Time { return time.Unix(0, 0) }

	mock.ExpectIncr("rl:k:0").SetErr(errors.New("connection refused"))

	_, err := rl.Allow(context.Background(), "k", 10, time.Minute)
	assert.Error(t, err)
}
