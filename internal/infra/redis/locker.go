package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/lifelink-engine/internal/lock"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL   = 30 * time.Second
	lockKeyPrefix    = "lifelink:lock"
	lockRetryStep    = 20 * time.Millisecond
	lockRetryMaxStep = 200 * time.Millisecond
	releaseTimeout   = 2 * time.Second
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript resets the lease ttl while the key still holds our token.
var extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var _ lock.Locker = (*RedisLocker)(nil)

// RedisLocker is a lease-based lock shared by every engine instance. While
// held, the lease is extended every renewEvery; a lease whose holder died
// expires after ttl.
type RedisLocker struct {
	client     *goredis.Client
	ttl        time.Duration
	renewEvery time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	token      func() string
}

func NewRedisLocker(client *goredis.Client, ttl time.Duration) (*RedisLocker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}

	return &RedisLocker{
		client:     client,
		ttl:        ttl,
		renewEvery: ttl / 3,
		sleep:      sleepWithContext,
		token:      uuid.NewString,
	}, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}

	redisKey := fmt.Sprintf("%s:%s", lockKeyPrefix, key)
	token := l.token()
	backoff := lockRetryStep

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to acquire lock %q: %w", key, err)
		}
		if ok {
			return l.releaser(redisKey, token), nil
		}

		if err := l.sleep(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
		if backoff > lockRetryMaxStep {
			backoff = lockRetryMaxStep
		}
	}
}

func (l *RedisLocker) releaser(redisKey, token string) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(redisKey, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done

			// The caller's context may already be done; release on a fresh one.
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			// On failure the lease expires on its own after ttl.
			_ = releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err()
		})
	}
}

// keepAlive extends the lease until stop is closed or the lease is lost.
func (l *RedisLocker) keepAlive(redisKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.renewEvery)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			held, err := l.extend(redisKey, token)
			if err == nil && !held {
				return
			}
		}
	}
}

// extend reports whether the lease is still ours after resetting its ttl.
func (l *RedisLocker) extend(redisKey, token string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	n, err := extendScript.Run(ctx, l.client, []string{redisKey}, token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
