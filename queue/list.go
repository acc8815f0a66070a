package queue

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/bitleak/bert/codec"
)

// ListQueue is a FIFO on a redis list: RPUSH to put, LPOP to get.
type ListQueue struct {
	key   string
	cli   *redis.Client
	codec *codec.Codec
}

func NewListQueue(key string, cli *redis.Client, c *codec.Codec) *ListQueue {
	if c == nil {
		c = codec.Default()
	}
	return &ListQueue{key: key, cli: cli, codec: c}
}

func (q *ListQueue) Key() string {
	return q.key
}

func (q *ListQueue) Put(ctx context.Context, payload interface{}) error {
	encoded, err := q.codec.Encode(payload)
	if err != nil {
		return err
	}
	data, err := codec.Marshal(encoded)
	if err != nil {
		return err
	}
	if err := q.cli.RPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	metrics.puts.WithLabelValues(string(KindRedis), q.key).Inc()
	return nil
}

func (q *ListQueue) Get(ctx context.Context) (*Item, error) {
	val, err := q.cli.LPop(ctx, q.key).Bytes()
	if err == redis.Nil {
		metrics.empty.WithLabelValues(string(KindRedis), q.key).Inc()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lpop: %w", err)
	}
	tagged, err := codec.Unmarshal(val)
	if err != nil {
		return nil, err
	}
	payload, err := q.codec.Decode(tagged)
	if err != nil {
		return nil, err
	}
	metrics.gets.WithLabelValues(string(KindRedis), q.key).Inc()
	return &Item{Payload: payload}, nil
}

func (q *ListQueue) Size(ctx context.Context) (int64, error) {
	return q.cli.LLen(ctx, q.key).Result()
}

func (q *ListQueue) Clear(ctx context.Context) (int64, error) {
	size, err := q.Size(ctx)
	if err != nil {
		return 0, err
	}
	return size, q.cli.Del(ctx, q.key).Err()
}
