// Package lock serializes import jobs across workers.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fieldops-etl/internal/logging"
	"fieldops-etl/internal/util"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrNotObtained is returned when another job holds the lock.
var ErrNotObtained = errors.New("import lock is held by another job")

// Lock is a held lock.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker obtains named locks.
type Locker interface {
	Obtain(ctx context.Context, key string) (Lock, error)
}

// ImportKey is the lock key of an import job kind.
func ImportKey(prefix, kind string) string {
	return prefix + "import:" + kind
}

// NopLocker always succeeds. It is used when no Redis URL is configured.
type NopLocker struct{}

type nopLock struct{}

func (nopLock) Release(context.Context) error { return nil }

func (NopLocker) Obtain(context.Context, string) (Lock, error) { return nopLock{}, nil }

const (
	defaultTTL     = 10 * time.Minute
	retryBackoff   = 500 * time.Millisecond
	defaultRetries = 10
)

// RedisLocker holds locks in Redis with a TTL. Obtain retries with a linear
// backoff before giving up.
type RedisLocker struct {
	client  *redislock.Client
	ttl     time.Duration
	retries int
}

// redisNewClientFunc allows overriding redis.NewClient for testing.
var redisNewClientFunc = redis.NewClient

// NewRedisLocker connects to the Redis server at url. ttl <= 0 selects ten
// minutes; retries < 0 disables retrying.
func NewRedisLocker(url string, ttl time.Duration, retries int) (*RedisLocker, *redis.Client, error) {
	expanded := util.ExpandEnvUniversal(url)
	opts, err := redis.ParseURL(expanded)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis url '%s': %w", util.MaskCredentials(expanded), err)
	}
	rdb := redisNewClientFunc(opts)
	return NewRedisLockerFromClient(rdb, ttl, retries), rdb, nil
}

// NewRedisLockerFromClient wraps an existing client.
func NewRedisLockerFromClient(client redislock.RedisClient, ttl time.Duration, retries int) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if retries == 0 {
		retries = defaultRetries
	}
	if retries < 0 {
		retries = 0
	}
	return &RedisLocker{client: redislock.New(client), ttl: ttl, retries: retries}
}

func (l *RedisLocker) Obtain(ctx context.Context, key string) (Lock, error) {
	opts := &redislock.Options{}
	if l.retries > 0 {
		opts.RetryStrategy = redislock.LimitRetry(redislock.LinearBackoff(retryBackoff), l.retries)
	}
	held, err := l.client.Obtain(ctx, key, l.ttl, opts)
	if errors.Is(err, redislock.ErrNotObtained) {
		logging.Logf(logging.Warning, "Could not obtain lock '%s'.", key)
		return nil, fmt.Errorf("%w: %s", ErrNotObtained, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain lock '%s': %w", key, err)
	}
	logging.Logf(logging.Debug, "Obtained lock '%s' for %s.", key, l.ttl)
	return holdLock(held, key, l.ttl), nil
}

// heldLock is the part of *redislock.Lock a held lock uses.
type heldLock interface {
	Refresh(ctx context.Context, ttl time.Duration, opt *redislock.Options) error
	Release(ctx context.Context) error
}

// redisLock refreshes its TTL every ttl/2 until released.
type redisLock struct {
	lock heldLock
	key  string
	ttl  time.Duration

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func holdLock(held heldLock, key string, ttl time.Duration) *redisLock {
	r := &redisLock{lock: held, key: key, ttl: ttl, stop: make(chan struct{}), done: make(chan struct{})}
	go r.keepAlive()
	return r
}

func (r *redisLock) keepAlive() {
	defer close(r.done)
	ticker := time.NewTicker(r.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.ttl/2)
			err := r.lock.Refresh(ctx, r.ttl, nil)
			cancel()
			if errors.Is(err, redislock.ErrNotObtained) {
				logging.Logf(logging.Warning, "Lock '%s' was lost; another job may now run.", r.key)
				return
			}
			if err != nil {
				logging.Logf(logging.Warning, "Failed to refresh lock '%s': %v", r.key, err)
				continue
			}
			logging.Logf(logging.Debug, "Refreshed lock '%s' for %s.", r.key, r.ttl)
		}
	}
}

func (r *redisLock) Release(ctx context.Context) error {
	var err error
	r.once.Do(func() {
		close(r.stop)
		<-r.done
		err = r.lock.Release(ctx)
	})
	if errors.Is(err, redislock.ErrLockNotHeld) {
		logging.Logf(logging.Warning, "Lock '%s' expired before release.", r.key)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to release lock '%s': %w", r.key, err)
	}
	return nil
}
