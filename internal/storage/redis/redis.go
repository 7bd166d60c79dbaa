package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisRepo struct {
	client *redis.Client
}

func New(ctx context.Context, addr, pass string, db int) (*RedisRepo, error) {
	const op = "storage.redis.New"

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     pass,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &RedisRepo{
		client: client,
	}, nil
}

// NewFromClient wraps an existing client. Used by tests with miniredis.
func NewFromClient(client *redis.Client) *RedisRepo {
	return &RedisRepo{client: client}
}

// GetDisposable reads a cached disposable-domain verdict. known=false
// means the domain has not been looked up yet (or the cache entry
// expired).
func (r *RedisRepo) GetDisposable(ctx context.Context, domain string) (known bool, disposable bool, err error) {
	const op = "storage.redis.GetDisposable"

	key := disposableKey(domain)

	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("%s: %w", op, err)
	}

	return true, val == "1", nil
}

// SetDisposable caches a disposable-domain verdict for ttl.
func (r *RedisRepo) SetDisposable(ctx context.Context, domain string, disposable bool, ttl time.Duration) error {
	const op = "storage.redis.SetDisposable"

	val := "0"
	if disposable {
		val = "1"
	}

	if err := r.client.Set(ctx, disposableKey(domain), val, ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *RedisRepo) Close() {
	r.client.Close()
}

func disposableKey(domain string) string {
	return fmt.Sprintf("disposable:domain:%s", domain)
}
