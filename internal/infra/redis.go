// README: Redis client for scheduler job leases.
package infra

import (
	"github.com/redis/go-redis/v9"

	"dispatchd/internal/config"
)

func NewRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password})
}
