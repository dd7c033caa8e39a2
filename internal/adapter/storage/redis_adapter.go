package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/pos-checkout/internal/core/domain"
	"github.com/rl1809/pos-checkout/internal/port"
)

const (
	productKeyPrefix     = "product:"
	idempotencyKeyPrefix = "idem:checkout:"
	// an in-flight claim expires on its own if the process dies mid-request
	inFlightTTL = time.Minute
)

// claimScript reserves a key with an empty value, or returns what is
// already stored under it.
var claimScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current then
	return {0, current}
end

redis.call('SET', KEYS[1], '', 'PX', ARGV[1])
return {1, ''}
`)

// releaseScript drops a claim that never completed. A stored result is kept.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == '' then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

type RedisAdapter struct {
	client         *redis.Client
	productTTL     time.Duration
	idempotencyTTL time.Duration
}

var (
	_ port.ProductCache     = (*RedisAdapter)(nil)
	_ port.IdempotencyStore = (*RedisAdapter)(nil)
)

func NewRedisAdapter(client *redis.Client, productTTL, idempotencyTTL time.Duration) *RedisAdapter {
	return &RedisAdapter{
		client:         client,
		productTTL:     productTTL,
		idempotencyTTL: idempotencyTTL,
	}
}

func (r *RedisAdapter) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	data, err := r.client.Get(ctx, productKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Product{}, port.ErrCacheMiss
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("redis get failed: %w", err)
	}

	var p domain.Product
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Product{}, fmt.Errorf("unmarshal product failed: %w", err)
	}
	return p, nil
}

func (r *RedisAdapter) SetProduct(ctx context.Context, p domain.Product) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal product failed: %w", err)
	}
	if err := r.client.Set(ctx, productKeyPrefix+p.ID, data, r.productTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisAdapter) InvalidateProduct(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, productKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (r *RedisAdapter) Claim(ctx context.Context, key string) (bool, string, error) {
	res, err := claimScript.Run(ctx, r.client, []string{idempotencyKeyPrefix + key}, inFlightTTL.Milliseconds()).Slice()
	if err != nil {
		return false, "", fmt.Errorf("idempotency claim failed: %w", err)
	}
	if len(res) != 2 {
		return false, "", fmt.Errorf("idempotency claim: unexpected reply %v", res)
	}

	claimed, _ := res[0].(int64)
	stored, _ := res[1].(string)
	return claimed == 1, stored, nil
}

func (r *RedisAdapter) Complete(ctx context.Context, key, result string) error {
	if err := r.client.Set(ctx, idempotencyKeyPrefix+key, result, r.idempotencyTTL).Err(); err != nil {
		return fmt.Errorf("idempotency complete failed: %w", err)
	}
	return nil
}

func (r *RedisAdapter) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, r.client, []string{idempotencyKeyPrefix + key}).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("idempotency release failed: %w", err)
	}
	return nil
}
