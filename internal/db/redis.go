// internal/db/redis.go
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	ClusterMode bool
	Addresses   []string
	Password    string
	DB          int
	PoolSize    int
	// DialTimeout also bounds the startup ping. Zero means 5s.
	DialTimeout time.Duration
}

// options maps the config onto go-redis. Outside cluster mode only the first address is
// dialled; cluster mode ignores DB since clusters only have database 0.
func (cfg RedisConfig) options() (*redis.UniversalOptions, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("no Redis address provided")
	}
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	opts := &redis.UniversalOptions{
		Addrs:       cfg.Addresses,
		Password:    cfg.Password,
		PoolSize:    cfg.PoolSize,
		DialTimeout: timeout,
	}
	if !cfg.ClusterMode {
		opts.Addrs = cfg.Addresses[:1]
		opts.DB = cfg.DB
	}
	return opts, nil
}

// NewRedis connects the price cache backend and fails fast when it is unreachable.
func NewRedis(cfg RedisConfig) (redis.UniversalClient, error) {
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}
	var client redis.UniversalClient
	if cfg.ClusterMode {
		client = redis.NewClusterClient(opts.Cluster())
	} else {
		client = redis.NewClient(opts.Simple())
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		if cfg.ClusterMode {
			return nil, fmt.Errorf("failed to connect to Redis cluster: %w", err)
		}
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
