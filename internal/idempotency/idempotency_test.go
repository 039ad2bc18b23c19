package idempotency

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-redis/redismock/v9"
	redisadapter "github.com/robertarktes/seat-booking/internal/adapters/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	a := Key("alice", "POST", "/v1/events/e1/seats/R1S1/hold", "k1")
	assert.Len(t, a, 64)
	assert.Equal(t, a, Key("alice", "POST", "/v1/events/e1/seats/R1S1/hold", "k1"))
	assert.NotEqual(t, a, Key("bob", "POST", "/v1/events/e1/seats/R1S1/hold", "k1"))
	assert.NotEqual(t, a, Key("alice", "POST", "/v1/events/e1/seats/R1S2/hold", "k1"))
}

func TestIdempotency_SkipsServerErrors(t *testing.T) {
	db, mock := redismock.NewClientMock()
	idem := NewIdempotency(redisadapter.NewIdempotency(db), 0)

	require.NoError(t, idem.Set(context.Background(), "k", Response{Status: 503}))
	assert.NoError(t, mock.ExpectationsWereMet(), "no redis call for 5xx")
}

func TestIdempotency_RoundTrip(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	idem := NewIdempotency(redisadapter.NewIdempotency(db), 0)

	stored := redisadapter.IdempResponse{Status: 201, ContentType: "application/json", Result: []byte(`{"token":"A1"}`)}
	data, err := json.Marshal(stored)
	require.NoError(t, err)

	mock.ExpectSetNX("idemp:k", data, DefaultTTL).SetVal(true)
	mock.ExpectGet("idemp:k").SetVal(string(data))

	require.NoError(t, idem.Set(ctx, "k", Response{Status: 201, ContentType: "application/json", Result: []byte(`{"token":"A1"}`)}))

	got, err := idem.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 201, got.Status)
	assert.Equal(t, "application/json", got.ContentType)
	assert.NoError(t, mock.ExpectationsWereMet())
}
