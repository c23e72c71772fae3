package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"marketplace-orders/config"
	"marketplace-orders/models"
)

// RedisStorage keeps one cart per user under "cart:<user id>" so it follows
// the buyer across devices. Idle carts expire after TTL.
type RedisStorage struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
}

func NewRedisStorage(client redis.Cmdable, userID int64, ttl time.Duration) *RedisStorage {
	return &RedisStorage{client: client, key: fmt.Sprintf("cart:%d", userID), ttl: ttl}
}

// NewRedisFromConfig connects to the Redis named by cfg and returns the
// user's cart storage with cfg.CartTTL. The caller closes the client.
func NewRedisFromConfig(cfg *config.Config, userID int64) (*RedisStorage, *redis.Client) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewRedisStorage(client, userID, cfg.CartTTL), client
}

func (r *RedisStorage) Load(ctx context.Context) ([]models.CartItem, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", r.key, err)
	}

	var items []models.CartItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", r.key, err)
	}
	return items, nil
}

func (r *RedisStorage) Save(ctx context.Context, items []models.CartItem) error {
	if len(items) == 0 {
		if err := r.client.Del(ctx, r.key).Err(); err != nil {
			return fmt.Errorf("del %s: %w", r.key, err)
		}
		return nil
	}

	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	if err := r.client.Set(ctx, r.key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", r.key, err)
	}
	return nil
}
