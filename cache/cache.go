package cache

import (
	"context"
)

const (
	DefaultPrefix = "redis-cache-backend-"
	DefaultStep   = int64(20000)
)

// Backend snapshots a queue into a cache namespace and restores it. The cache
// of a queue lives under prefix + queue key.
type Backend interface {
	// FillCacheFromQueue copies up to maxFill items (all when maxFill <= 0)
	// from the queue into its cache, the queue is left untouched
	FillCacheFromQueue(ctx context.Context, key string, maxFill int64) (int64, error)
	// FillQueueFromCache copies up to limit cached items (all when limit <= 0) back into the queue
	FillQueueFromCache(ctx context.Context, key string, limit int64) (int64, error)
	Contains(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context, key string) error
	ClearQueue(ctx context.Context, key string) error
	CacheSize(ctx context.Context, key string) (int64, error)
	QueueSize(ctx context.Context, key string) (int64, error)
}

type options struct {
	prefix string
	step   int64
}

type Option func(*options)

func WithPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithStep sets how many items are copied per round trip.
func WithStep(step int64) Option {
	return func(o *options) {
		if step > 0 {
			o.step = step
		}
	}
}

func newOptions(opts []Option) options {
	o := options{prefix: DefaultPrefix, step: DefaultStep}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) cacheKey(key string) string {
	return o.prefix + key
}

// pageSize returns how many items to copy next, given how many were copied.
func (o options) pageSize(copied, max int64) int64 {
	size := o.step
	if max > 0 && max-copied < size {
		size = max - copied
	}
	return size
}
