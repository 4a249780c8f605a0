package scheduler

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLocker leases a job tick with SET NX PX. The lease is never released
// early; it expires after ttl, which should be shorter than the job interval.
type RedisLocker struct {
	client redis.Cmdable
	prefix string
	owner  string
}

func NewRedisLocker(client redis.Cmdable, owner string) *RedisLocker {
	return &RedisLocker{client: client, prefix: "dispatchd:job:", owner: owner}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, l.prefix+key, l.owner, ttl).Result()
}
