package monitoring

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client *redis.Client, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// LiveWorkers is satisfied by the worker pool.
type LiveWorkers interface {
	Live() int
}

// AddWorkerCheck fails when no media worker is alive.
func (h *HealthChecker) AddWorkerCheck(pool LiveWorkers, interval time.Duration) {
	h.AddCheck("media_workers", func(ctx context.Context) (bool, error) {
		if pool.Live() == 0 {
			return false, errors.New("no live media workers")
		}
		return true, nil
	}, interval, 0)
}
