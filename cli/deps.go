package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/bitleak/bert/cache"
	"github.com/bitleak/bert/codec"
	"github.com/bitleak/bert/config"
	"github.com/bitleak/bert/helper"
	"github.com/bitleak/bert/queue"
	"github.com/bitleak/bert/reporting"
	"github.com/bitleak/bert/storage"
	storageconf "github.com/bitleak/bert/storage/conf"
	"github.com/bitleak/bert/storage/memory"
	"github.com/bitleak/bert/storage/postgres"
	"github.com/bitleak/bert/storage/spanner"
)

// Deps is what the commands run against, built from the config.
type Deps struct {
	Conf    *config.Config
	Store   storage.Storage
	Redis   *redis.Client
	Factory *queue.Factory
	Codecs  *codec.Registry
	Tracker *reporting.Tracker
	Cache   cache.Backend

	closers []func()
}

// openStore dials the table store behind rawURL, wrapped with the storage metrics.
func openStore(ctx context.Context, conf *config.Config, rawURL string) (storage.Storage, func(), error) {
	scheme, err := config.StoreScheme(rawURL)
	if err != nil {
		return nil, nil, err
	}
	switch scheme {
	case "memory":
		return storage.WithMetrics(scheme, memory.New()), func() {}, nil
	case "postgres", "postgresql":
		store, err := postgres.Connect(ctx, postgres.Config{
			ConnectionString: rawURL,
			TableName:        conf.TableName,
			RetryAttempts:    3,
			RetryInterval:    time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		return storage.WithMetrics("postgres", store), store.Close, nil
	case "spanner":
		cfg, err := storageconf.ParseSpannerURI(strings.TrimPrefix(rawURL, "spanner://"))
		if err != nil {
			return nil, nil, err
		}
		if conf.Spanner != nil {
			cfg.CredentialsFile = conf.Spanner.CredentialsFile
			cfg.TableName = conf.Spanner.TableName
		}
		if conf.TableName != "" {
			cfg.TableName = conf.TableName
		}
		store, err := spanner.NewFromConfig(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return storage.WithMetrics(scheme, store), store.Close, nil
	}
	return nil, nil, fmt.Errorf("%s isn't a table store", scheme)
}

// Build wires the store, queue factory, execution tracker and cache backend
// described by conf.
func Build(ctx context.Context, conf *config.Config, codecs *codec.Registry, logger *logrus.Logger) (*Deps, error) {
	if codecs == nil {
		codecs = codec.NewRegistry()
	}
	d := &Deps{Conf: conf, Codecs: codecs}
	scheme, err := config.StoreScheme(conf.StoreURL)
	if err != nil {
		return nil, err
	}

	factoryOpts := []queue.FactoryOption{queue.WithAckTimeout(conf.AckTimeout())}
	if scheme == "redis" || scheme == "rediss" {
		cli, err := helper.NewRedisClient(conf.StoreURL, 0)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, func() { cli.Close() })
		if err := helper.ValidateRedisConfig(ctx, cli); err != nil {
			logger.WithError(err).Warn("Redis may lose queued items")
		}
		d.Redis = cli
		factoryOpts = append(factoryOpts, queue.WithRedis(cli))
	} else {
		store, closer, err := openStore(ctx, conf, conf.StoreURL)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.closers = append(d.closers, closer)
		d.Store = store
		factoryOpts = append(factoryOpts, queue.WithStorage(store))
	}

	kind, err := queue.ParseKind(conf.QueueType)
	if err != nil {
		d.Close()
		return nil, err
	}
	if d.Factory, err = queue.NewFactory(kind, factoryOpts...); err != nil {
		d.Close()
		return nil, err
	}

	lock := d.Store
	if conf.LockURL != "" {
		store, closer, err := openStore(ctx, conf, conf.LockURL)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.closers = append(d.closers, closer)
		lock = store
	}
	if lock == nil {
		logger.Warn("No table store for the execution records, they are kept in this process only")
		lock = memory.New()
	}
	d.Tracker = reporting.NewTracker(lock,
		reporting.WithPolling(conf.LockDelay(), reporting.DefaultInterval),
		reporting.WithLogger(logger))

	cacheOpts := []cache.Option{cache.WithPrefix(conf.Cache.Prefix), cache.WithStep(conf.Cache.Step)}
	switch {
	case kind == queue.KindRedis:
		d.Cache = cache.NewRedisBackend(d.Redis, cacheOpts...)
	case kind != queue.KindLocal && d.Store != nil:
		d.Cache = cache.NewTableBackend(d.Store, cacheOpts...)
	}
	return d, nil
}

// Close releases the clients in the reverse order they were opened.
func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}
