package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/bitleak/bert/codec"
	"github.com/bitleak/bert/config"
	"github.com/bitleak/bert/storage"
)

type Kind string

const (
	KindTable     Kind = config.QueueTable
	KindRedis     Kind = config.QueueRedis
	KindStreaming Kind = config.QueueStreaming
	KindLocal     Kind = config.QueueLocal
)

// ParseKind accepts a kind or one of its aliases (dynamodb, list, ephemeral, debug).
func ParseKind(s string) (Kind, error) {
	kind, ok := config.NormalizeQueueType(s)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, s)
	}
	return Kind(kind), nil
}

// Factory hands out queues of one kind. Ephemeral rows are buffered per key so
// every binding of a job shares the rows delivered to the process.
type Factory struct {
	kind       Kind
	store      storage.Storage
	redis      *redis.Client
	broker     *LocalBroker
	ackTimeout time.Duration

	mu      sync.Mutex
	streams map[string]*rowBuffer
}

type FactoryOption func(*Factory)

func WithStorage(store storage.Storage) FactoryOption {
	return func(f *Factory) { f.store = store }
}

func WithRedis(cli *redis.Client) FactoryOption {
	return func(f *Factory) { f.redis = cli }
}

func WithBroker(broker *LocalBroker) FactoryOption {
	return func(f *Factory) { f.broker = broker }
}

func WithAckTimeout(timeout time.Duration) FactoryOption {
	return func(f *Factory) { f.ackTimeout = timeout }
}

func NewFactory(kind Kind, opts ...FactoryOption) (*Factory, error) {
	f := &Factory{
		kind:       kind,
		ackTimeout: DefaultAckTimeout,
		streams:    make(map[string]*rowBuffer),
	}
	for _, opt := range opts {
		opt(f)
	}
	switch kind {
	case KindTable:
		if f.store == nil {
			return nil, fmt.Errorf("%w: %s queues need a storage", ErrUnsupportedKind, kind)
		}
	case KindRedis:
		if f.redis == nil {
			return nil, fmt.Errorf("%w: %s queues need a redis client", ErrUnsupportedKind, kind)
		}
	case KindStreaming:
	case KindLocal:
		if f.broker == nil {
			f.broker = NewLocalBroker()
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}
	return f, nil
}

func (f *Factory) Kind() Kind {
	return f.kind
}

// Broker returns the local broker, nil unless the kind is local.
func (f *Factory) Broker() *LocalBroker {
	return f.broker
}

func (f *Factory) Storage() storage.Storage {
	return f.store
}

func (f *Factory) Redis() *redis.Client {
	return f.redis
}

// New returns the queue stored under key, encoding payloads with c.
func (f *Factory) New(key string, c *codec.Codec) Queue {
	switch f.kind {
	case KindTable:
		return NewTableQueue(key, f.store, c)
	case KindRedis:
		return NewListQueue(key, f.redis, c)
	case KindStreaming:
		return f.Stream(key, c)
	default:
		return NewLocalQueue(key, f.broker)
	}
}

// Stream returns an ephemeral queue of key decoding with c. Queues of the same
// key share one row buffer whatever their codec.
func (f *Factory) Stream(key string, c *codec.Codec) *EphemeralQueue {
	f.mu.Lock()
	buf, ok := f.streams[key]
	if !ok {
		buf = &rowBuffer{}
		f.streams[key] = buf
	}
	f.mu.Unlock()

	var fallback *TableQueue
	if f.store != nil {
		fallback = NewTableQueue(key, f.store, c)
	}
	q := newEphemeralQueue(key, fallback, c, buf)
	q.SetAckTimeout(f.ackTimeout, DefaultAckInterval)
	return q
}
