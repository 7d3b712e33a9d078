package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/redis/go-redis/v9"
)

var errStale = errors.New("cached cart is newer")

// RedisCache stores carts as JSON under "{prefix}:cart:{ownerKey}". Several
// storefront deployments can share one Redis by using different prefixes.
type RedisCache struct {
	client  *redis.Client
	prefix  string
	baseTTL time.Duration
}

func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{
		client:  client,
		prefix:  prefix,
		baseTTL: 15 * time.Minute,
	}
}

func (r *RedisCache) Get(ctx context.Context, ownerKey string) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, r.key(ownerKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get cart %s: %w", ownerKey, err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("decode cached cart %s: %w", ownerKey, err)
	}
	return &cart, nil
}

// Set caches cart unless the entry already holds a cart updated later. Fills
// race with writes that invalidate the entry, so a slow fill from an older read
// must not bring back a stale cart. A concurrent writer wins without an error.
func (r *RedisCache) Set(ctx context.Context, ownerKey string, cart *domain.Cart) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("encode cart %s: %w", ownerKey, err)
	}
	key := r.key(ownerKey)
	ttl := r.baseTTL + time.Duration(rand.Intn(5))*time.Minute

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var cached domain.Cart
			if json.Unmarshal(current, &cached) == nil && cached.UpdatedAt.After(cart.UpdatedAt) {
				return errStale
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil, errors.Is(err, errStale), errors.Is(err, redis.TxFailedErr):
		return nil
	default:
		return fmt.Errorf("redis set cart %s: %w", ownerKey, err)
	}
}

func (r *RedisCache) Delete(ctx context.Context, ownerKey string) error {
	if err := r.client.Del(ctx, r.key(ownerKey)).Err(); err != nil {
		return fmt.Errorf("redis delete cart %s: %w", ownerKey, err)
	}
	return nil
}

func (r *RedisCache) key(ownerKey string) string {
	if r.prefix == "" {
		return "cart:" + ownerKey
	}
	return r.prefix + ":cart:" + ownerKey
}
