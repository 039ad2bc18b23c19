package redis_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	redisadapter "github.com/robertarktes/seat-booking/internal/adapters/redis"
	"github.com/robertarktes/seat-booking/internal/availability"
	"github.com/robertarktes/seat-booking/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SectorView(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	cache := redisadapter.NewCache(db)

	view := availability.SectorView{
		EventID:  "evt-1",
		Sector:   "Courtside",
		Seats:    []availability.SeatView{{SeatID: "R1S1", Status: domain.SeatSold, Version: 2}},
		Occupied: []string{"R1S1"},
		Sold:     1,
	}
	data, err := json.Marshal(view)
	require.NoError(t, err)

	mock.ExpectGet("availability:{evt-1}:Courtside").RedisNil()
	mock.ExpectSet("availability:{evt-1}:Courtside", data, 2*time.Second).SetVal("OK")
	mock.ExpectGet("availability:{evt-1}:Courtside").SetVal(string(data))

	_, ok, err := cache.GetSectorView(ctx, "evt-1", "Courtside")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.SetSectorView(ctx, view, 2*time.Second))

	got, ok, err := cache.GetSectorView(ctx, "evt-1", "Courtside")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, view.Seats, got.Seats)
	assert.Equal(t, 1, got.Sold)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_GetSet(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	store := redisadapter.NewIdempotency(db)

	resp := redisadapter.IdempResponse{Status: 201, ContentType: "application/json", Result: []byte(`{"ok":true}`)}
	data, err := json.Marshal(resp)
	require.NoError(t, err)

	mock.ExpectGet("idemp:k1").RedisNil()
	mock.ExpectSetNX("idemp:k1", data, time.Hour).SetVal(true)
	mock.ExpectGet("idemp:k1").SetVal(string(data))

	got, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.Set(ctx, "k1", resp, time.Hour))

	got, err = store.Get(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 201, got.Status)
	assert.JSONEq(t, `{"ok":true}`, string(got.Result))

	assert.NoError(t, mock.ExpectationsWereMet())
}
