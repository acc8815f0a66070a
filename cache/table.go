package cache

import (
	"context"

	"github.com/bitleak/bert/storage"
	"github.com/bitleak/bert/storage/model"
)

// TableBackend caches table queues by copying their rows under another table name.
type TableBackend struct {
	store storage.Storage
	options
}

func NewTableBackend(store storage.Storage, opts ...Option) *TableBackend {
	return &TableBackend{store: store, options: newOptions(opts)}
}

func (b *TableBackend) copyRows(ctx context.Context, from, to string, max int64) (int64, error) {
	var (
		copied int64
		after  string
	)
	for {
		size := b.pageSize(copied, max)
		if size <= 0 {
			return copied, nil
		}
		rows, err := b.store.Scan(ctx, &model.ScanReq{TableName: from, After: after, Limit: size})
		if err != nil {
			return copied, err
		}
		for _, row := range rows {
			cp := *row
			cp.TableName = to
			if err := b.store.Insert(ctx, &cp); err != nil {
				return copied, err
			}
			copied++
		}
		if int64(len(rows)) < size {
			return copied, nil
		}
		after = rows[len(rows)-1].Identity
	}
}

func (b *TableBackend) FillCacheFromQueue(ctx context.Context, key string, maxFill int64) (int64, error) {
	return b.copyRows(ctx, key, b.cacheKey(key), maxFill)
}

func (b *TableBackend) FillQueueFromCache(ctx context.Context, key string, limit int64) (int64, error) {
	return b.copyRows(ctx, b.cacheKey(key), key, limit)
}

func (b *TableBackend) Contains(ctx context.Context, key string) (bool, error) {
	n, err := b.store.Count(ctx, b.cacheKey(key))
	return n > 0, err
}

func (b *TableBackend) Clear(ctx context.Context, key string) error {
	_, err := b.store.Clear(ctx, b.cacheKey(key))
	return err
}

func (b *TableBackend) ClearQueue(ctx context.Context, key string) error {
	_, err := b.store.Clear(ctx, key)
	return err
}

func (b *TableBackend) CacheSize(ctx context.Context, key string) (int64, error) {
	return b.store.Count(ctx, b.cacheKey(key))
}

func (b *TableBackend) QueueSize(ctx context.Context, key string) (int64, error) {
	return b.store.Count(ctx, key)
}
