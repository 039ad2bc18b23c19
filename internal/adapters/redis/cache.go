package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/seat-booking/internal/availability"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func viewKey(eventID, sector string) string {
	return "availability:{" + eventID + "}:" + sector
}

func (c *Cache) GetSectorView(ctx context.Context, eventID, sector string) (availability.SectorView, bool, error) {
	val, err := c.client.Get(ctx, viewKey(eventID, sector)).Bytes()
	if err == redis.Nil {
		return availability.SectorView{}, false, nil
	}
	if err != nil {
		return availability.SectorView{}, false, err
	}
	var v availability.SectorView
	if err := json.Unmarshal(val, &v); err != nil {
		return availability.SectorView{}, false, err
	}
	return v, true, nil
}

func (c *Cache) SetSectorView(ctx context.Context, v availability.SectorView, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, viewKey(v.EventID, v.Sector), data, ttl).Err()
}
