package tokens

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker guards a refresh token against concurrent rotation.
type Locker interface {
	// Acquire returns ok=false when another holder owns the key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another worker is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	rc     redis.Cmdable
	prefix string
}

func NewRedisLocker(rc redis.Cmdable, prefix string) *RedisLocker {
	return &RedisLocker{rc: rc, prefix: prefix}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	full := l.prefix + key
	token := uuid.NewString()

	ok, err := l.rc.SetNX(ctx, full, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	release := func() {
		_ = releaseScript.Run(context.Background(), l.rc, []string{full}, token).Err()
	}
	return release, true, nil
}
