package helper

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
)

// NewRedisClient builds a client from a redis:// url and attaches the metrics hook
func NewRedisClient(rawURL string, poolSize int) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if poolSize > 0 {
		opt.PoolSize = poolSize
	}
	client := redis.NewClient(opt)
	client.AddHook(NewMetricsHook(client))
	return client, nil
}

// ValidateRedisConfig rejects servers that may drop queue items: the append only
// file must be on and eviction disabled.
func ValidateRedisConfig(ctx context.Context, cli *redis.Client) error {
	infoStr, err := cli.Info(ctx, "persistence").Result()
	if err != nil {
		return err
	}
	persisted := false
	for _, line := range strings.Split(infoStr, "\r\n") {
		fields := strings.SplitN(line, ":", 2)
		if len(fields) != 2 {
			continue
		}
		if fields[0] == "aof_enabled" && fields[1] == "1" {
			persisted = true
		}
	}
	if !persisted {
		return errors.New("appendonly must be enabled")
	}

	policy, err := cli.ConfigGet(ctx, "maxmemory-policy").Result()
	if err != nil {
		return err
	}
	if len(policy) == 2 && policy[1] != "noeviction" {
		return fmt.Errorf("maxmemory-policy must be noeviction, got %v", policy[1])
	}
	return nil
}
