package config

import (
	"fmt"

	"github.com/orlangure/gnomock"
	"github.com/orlangure/gnomock/preset/postgres"
	"github.com/orlangure/gnomock/preset/redis"

	"github.com/bitleak/bert/storage/conf"
)

var SpannerEmulator = &conf.SpannerConfig{
	Project:   "test-project",
	Instance:  "test-instance",
	Database:  "test-db",
	TableName: "bert_rows",
}

type PresetConfigForTest struct {
	*Config
	RedisURL    string
	PostgresURL string
	containers  []*gnomock.Container
}

func newTestConfig() *Config {
	cfg := Default()
	cfg.AdminPort = 7778
	cfg.PollIntervalMS = 10
	cfg.RecheckDelayMS = 10
	cfg.LockDelayMS = 200
	cfg.AckTimeoutSecond = 1
	return cfg
}

// CreatePresetForTest starts a redis container, and a postgres container too
// when withPostgres is set. The config's store points at redis.
func CreatePresetForTest(withPostgres bool) (*PresetConfigForTest, error) {
	preset := &PresetConfigForTest{Config: newTestConfig()}

	redisContainer, err := gnomock.Start(redis.Preset())
	if err != nil {
		return nil, err
	}
	preset.containers = append(preset.containers, redisContainer)
	preset.RedisURL = fmt.Sprintf("redis://%s/0", redisContainer.DefaultAddress())
	preset.StoreURL = preset.RedisURL
	preset.QueueType = QueueRedis

	if withPostgres {
		p := postgres.Preset(
			postgres.WithUser("bert", "bert"),
			postgres.WithDatabase("bert"),
		)
		pgContainer, err := gnomock.Start(p)
		if err != nil {
			preset.Destroy()
			return nil, err
		}
		preset.containers = append(preset.containers, pgContainer)
		preset.PostgresURL = fmt.Sprintf("postgres://bert:bert@%s/bert?sslmode=disable", pgContainer.DefaultAddress())
		preset.LockURL = preset.PostgresURL
	}
	return preset, nil
}

func (presetConfig *PresetConfigForTest) Destroy() {
	gnomock.Stop(presetConfig.containers...)
	presetConfig.Config = nil
}
