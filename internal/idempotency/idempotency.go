package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	redisadapter "github.com/robertarktes/seat-booking/internal/adapters/redis"
)

const DefaultTTL = time.Hour

// Idempotency remembers responses to requests carrying an Idempotency-Key so
// a retried request gets the original answer instead of running again.
type Idempotency struct {
	redis *redisadapter.Idempotency
	ttl   time.Duration
}

func NewIdempotency(redis *redisadapter.Idempotency, ttl time.Duration) *Idempotency {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Idempotency{redis: redis, ttl: ttl}
}

type Response struct {
	Status      int
	ContentType string
	Result      []byte
}

// Key scopes a client key to the caller and the request it was sent with.
func Key(subject, method, path, clientKey string) string {
	sum := sha256.Sum256([]byte(subject + "\n" + method + "\n" + path + "\n" + clientKey))
	return hex.EncodeToString(sum[:])
}

func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	stored, err := i.redis.Get(ctx, key)
	if err != nil || stored == nil {
		return nil, err
	}
	return &Response{Status: stored.Status, ContentType: stored.ContentType, Result: stored.Result}, nil
}

// Set records resp. Server errors are not recorded so the client can retry.
func (i *Idempotency) Set(ctx context.Context, key string, resp Response) error {
	if resp.Status >= 500 {
		return nil
	}
	return i.redis.Set(ctx, key, redisadapter.IdempResponse{
		Status:      resp.Status,
		ContentType: resp.ContentType,
		Result:      resp.Result,
	}, i.ttl)
}
