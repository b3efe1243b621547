package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"inventra/backend/internal/domain"
)

type RedisProductCache struct {
	client *redis.Client
}

func NewRedisProductCache(addr string, password string, db int) *RedisProductCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisProductCache{client: client}
}

func (c *RedisProductCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisProductCache) Close() error {
	return c.client.Close()
}

func cacheKey(productID string) string {
	return "product:" + productID
}

func (c *RedisProductCache) Get(ctx context.Context, productID string) (*domain.Product, bool, error) {
	val, err := c.client.Get(ctx, cacheKey(productID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var product domain.Product
	if err := json.Unmarshal([]byte(val), &product); err != nil {
		return nil, false, err
	}
	return &product, true, nil
}

func (c *RedisProductCache) Set(ctx context.Context, product *domain.Product, ttl time.Duration) error {
	if product == nil {
		return nil
	}
	payload, err := json.Marshal(product)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(product.ID), payload, ttl).Err()
}

func (c *RedisProductCache) Invalidate(ctx context.Context, productIDs ...string) error {
	if len(productIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		keys = append(keys, cacheKey(id))
	}
	return c.client.Del(ctx, keys...).Err()
}
