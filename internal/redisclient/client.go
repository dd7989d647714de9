// Package redisclient constructs the pooled go-redis client the Redis
// broker backend runs on, kept separate from redisbackend itself so the
// connection-pool tuning can be reused (and tested) independent of the
// queue semantics built on top of it.
package redisclient

import (
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/insightqueue/insightqueue/internal/config"
)

// New returns a configured go-redis client sized off the broker config and
// the host's CPU count.
func New(cfg *config.Config) *redis.Client {
	poolSize := 10 * runtime.NumCPU()
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Broker.Address,
		PoolSize:     poolSize,
		MinIdleConns: poolSize / 4,
		DialTimeout:  cfg.Broker.DialTimeout,
		MaxRetries:   cfg.Broker.MaxRetries,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
}
