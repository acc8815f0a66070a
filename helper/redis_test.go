package helper

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisClient(t *testing.T) {
	ctx := context.Background()
	cli, err := NewRedisClient(CONF.RedisURL, 4)
	require.NoError(t, err)
	defer cli.Close()
	assert.Equal(t, 4, cli.Options().PoolSize)
	require.NoError(t, cli.Ping(ctx).Err())

	_, err = NewRedisClient("http://not-redis", 0)
	assert.Error(t, err)
}

func TestValidateRedisConfig(t *testing.T) {
	ctx := context.Background()
	cli, err := NewRedisClient(CONF.RedisURL, 0)
	require.NoError(t, err)
	defer cli.Close()

	_, err = cli.ConfigSet(ctx, "appendonly", "yes").Result()
	require.NoError(t, err)
	_, err = cli.ConfigSet(ctx, "maxmemory-policy", "allkeys-lru").Result()
	require.NoError(t, err)
	assert.Error(t, ValidateRedisConfig(ctx, cli))

	_, err = cli.ConfigSet(ctx, "maxmemory-policy", "noeviction").Result()
	require.NoError(t, err)
	assert.NoError(t, ValidateRedisConfig(ctx, cli))
}
