package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JonBeak/Nexus-sub005/domain"
	"github.com/JonBeak/Nexus-sub005/workcal"
)

type backend interface {
	FetchOrders(ctx context.Context, includeHidden bool) ([]domain.Order, error)
	FetchHolidays(ctx context.Context) (workcal.HolidaySet, error)
	EnqueueTransitions(ctx context.Context, userID string, cmds []domain.Command) error
}

// Cache wraps a Storage instance with Redis-backed caching for the board
// and holiday reads. Enqueuing a transition evicts the board keys so the
// next fetch observes the change once the order service applies it.
type Cache struct {
	*Storage
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis
// client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}

	c := &Cache{
		base:  base,
		redis: client,
		ttl:   ttl,
	}
	if s, ok := base.(*Storage); ok {
		c.Storage = s
	}
	return c
}

func (c *Cache) FetchOrders(ctx context.Context, includeHidden bool) ([]domain.Order, error) {
	key := ordersCacheKey(includeHidden)
	if orders, ok := c.loadOrdersFromCache(ctx, key); ok {
		return orders, nil
	}

	orders, err := c.base.FetchOrders(ctx, includeHidden)
	if err != nil {
		return nil, err
	}

	c.store(ctx, key, orders)
	return orders, nil
}

func (c *Cache) FetchHolidays(ctx context.Context) (workcal.HolidaySet, error) {
	if c.redis != nil {
		data, err := c.redis.Get(ctx, holidaysCacheKey).Bytes()
		if err == nil {
			var keys []string
			if err := json.Unmarshal(data, &keys); err == nil {
				holidays := make(workcal.HolidaySet, len(keys))
				for _, k := range keys {
					if d, err := time.Parse("2006-01-02", k); err == nil {
						holidays.Add(d)
					}
				}
				return holidays, nil
			}
			_ = c.redis.Del(ctx, holidaysCacheKey).Err()
		} else if err != redis.Nil {
			_ = c.redis.Del(ctx, holidaysCacheKey).Err()
		}
	}

	holidays, err := c.base.FetchHolidays(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(holidays))
	for k := range holidays {
		keys = append(keys, k)
	}
	c.store(ctx, holidaysCacheKey, keys)
	return holidays, nil
}

func (c *Cache) EnqueueTransitions(ctx context.Context, userID string, cmds []domain.Command) error {
	if err := c.base.EnqueueTransitions(ctx, userID, cmds); err != nil {
		return err
	}

	c.EvictBoard(ctx)
	return nil
}

// EvictBoard drops the cached board views. The update subscriber calls
// this when an inbound event lands so subscribers re-fetch fresh state.
func (c *Cache) EvictBoard(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, ordersCacheKey(false), ordersCacheKey(true)).Result()
}

func (c *Cache) loadOrdersFromCache(ctx context.Context, key string) ([]domain.Order, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var orders []domain.Order
	if err := json.Unmarshal(data, &orders); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return orders, true
}

func (c *Cache) store(ctx context.Context, key string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func ordersCacheKey(includeHidden bool) string {
	if includeHidden {
		return "board:orders:all"
	}
	return "board:orders"
}

const holidaysCacheKey = "board:holidays"
