package cache

import (
	"context"

	"github.com/go-redis/redis/v8"
)

// RedisBackend caches list queues in lists, copied page by page in order.
type RedisBackend struct {
	cli *redis.Client
	options
}

func NewRedisBackend(cli *redis.Client, opts ...Option) *RedisBackend {
	return &RedisBackend{cli: cli, options: newOptions(opts)}
}

func (b *RedisBackend) copyList(ctx context.Context, from, to string, max int64) (int64, error) {
	var copied int64
	for {
		size := b.pageSize(copied, max)
		if size <= 0 {
			return copied, nil
		}
		values, err := b.cli.LRange(ctx, from, copied, copied+size-1).Result()
		if err != nil {
			return copied, err
		}
		if len(values) == 0 {
			return copied, nil
		}
		args := make([]interface{}, len(values))
		for i, v := range values {
			args[i] = v
		}
		if err := b.cli.RPush(ctx, to, args...).Err(); err != nil {
			return copied, err
		}
		copied += int64(len(values))
		if int64(len(values)) < size {
			return copied, nil
		}
	}
}

func (b *RedisBackend) FillCacheFromQueue(ctx context.Context, key string, maxFill int64) (int64, error) {
	return b.copyList(ctx, key, b.cacheKey(key), maxFill)
}

func (b *RedisBackend) FillQueueFromCache(ctx context.Context, key string, limit int64) (int64, error) {
	return b.copyList(ctx, b.cacheKey(key), key, limit)
}

func (b *RedisBackend) Contains(ctx context.Context, key string) (bool, error) {
	n, err := b.cli.Exists(ctx, b.cacheKey(key)).Result()
	return n > 0, err
}

func (b *RedisBackend) Clear(ctx context.Context, key string) error {
	return b.cli.Del(ctx, b.cacheKey(key)).Err()
}

func (b *RedisBackend) ClearQueue(ctx context.Context, key string) error {
	return b.cli.Del(ctx, key).Err()
}

func (b *RedisBackend) CacheSize(ctx context.Context, key string) (int64, error) {
	return b.cli.LLen(ctx, b.cacheKey(key)).Result()
}

func (b *RedisBackend) QueueSize(ctx context.Context, key string) (int64, error) {
	return b.cli.LLen(ctx, key).Result()
}
