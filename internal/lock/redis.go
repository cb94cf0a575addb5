package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker backed by SET NX with expiry, shared by every
// process pointing at the same Redis
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis creates a Redis locker; keys are stored as prefix+name
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "lock:"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) TryLock(ctx context.Context, name string, ttl time.Duration) (Lease, bool, error) {
	key := r.prefix + name
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{client: r.client, key: key, token: token}, true, nil
}

type redisLease struct {
	client *redis.Client
	key    string
	token  string
}

func (l *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	return nil
}
