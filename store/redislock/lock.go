// Package redislock provides a best-effort distributed mutex on Redis so
// that only one server instance runs a due-processing pass at a time.
//
// Acquire is SET key token NX PX ttl. Release deletes the key only if it
// still holds our token, so an expired lock taken over by another instance
// is never released by us.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrNotHeld is returned by release when the lock expired or was taken over.
var ErrNotHeld = errors.New("lock not held")

const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Connect opens a client and pings it.
func Connect(ctx context.Context, opts Options) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

type Locker struct {
	client   redis.Cmdable
	prefix   string
	newToken func() string
}

func New(client redis.Cmdable) *Locker {
	return &Locker{
		client:   client,
		prefix:   "ledger:lock:",
		newToken: uuid.NewString,
	}
}

// ReleaseFunc gives the lock back.
type ReleaseFunc func(ctx context.Context) error

// TryLock attempts to take key for ttl without waiting. ok is false when
// another holder has it.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, bool, error) {
	full := l.prefix + key
	token := l.newToken()

	acquired, err := l.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s: %w", full, err)
	}
	if !acquired {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		n, err := l.client.Eval(ctx, releaseScript, []string{full}, token).Int64()
		if err != nil {
			return fmt.Errorf("release %s: %w", full, err)
		}
		if n == 0 {
			return ErrNotHeld
		}
		return nil
	}
	return release, true, nil
}
