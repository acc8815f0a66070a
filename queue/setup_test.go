package queue

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/go-redis/redis/v8"

	"github.com/bitleak/bert/config"
	"github.com/bitleak/bert/helper"
)

var (
	redisCli *redis.Client
	dummyCtx = context.TODO()
)

func requireRedis(t *testing.T) *redis.Client {
	if redisCli == nil {
		t.Skip("redis is not available")
	}
	return redisCli
}

func TestMain(m *testing.M) {
	presetConfig, err := config.CreatePresetForTest(false)
	if err != nil {
		fmt.Printf("CreatePresetForTest failed, the redis tests will be skipped: %s\n", err)
		os.Exit(m.Run())
	}
	redisCli, err = helper.NewRedisClient(presetConfig.RedisURL, 0)
	if err != nil {
		panic(fmt.Sprintf("Failed to create redis client: %s", err))
	}
	if err := redisCli.FlushDB(dummyCtx).Err(); err != nil {
		panic(fmt.Sprintf("Failed to flush db: %s", err))
	}
	ret := m.Run()
	redisCli.Close()
	presetConfig.Destroy()
	os.Exit(ret)
}
