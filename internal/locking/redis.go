package locking

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLeaseTTL   = 30 * time.Second
	defaultRetryEvery = 100 * time.Millisecond
	defaultKeyPrefix  = "installops:lock:"
)

// RedisLocker hands out leases backed by a Redis key, for deployments
// running more than one instance.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	retry  time.Duration
	prefix string
}

// RedisOption configures a RedisLocker.
type RedisOption func(*RedisLocker)

// WithLeaseTTL sets how long a lease survives a crashed holder.
func WithLeaseTTL(ttl time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithRetryInterval sets the polling interval while waiting for a key.
func WithRetryInterval(interval time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if interval > 0 {
			l.retry = interval
		}
	}
}

// WithKeyPrefix sets the Redis key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLocker) {
		l.prefix = prefix
	}
}

// NewRedisLocker constructs a locker on client.
func NewRedisLocker(client redis.UniversalClient, opts ...RedisOption) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("redis locker: nil client")
	}
	l := &RedisLocker{
		client: redislock.New(client),
		ttl:    defaultLeaseTTL,
		retry:  defaultRetryEvery,
		prefix: defaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// NewRedisClient builds a go-redis client.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Acquire polls until the key is obtained or ctx ends.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	lock, err := l.client.Obtain(ctx, l.prefix+key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(l.retry),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrNotObtained
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrNotObtained
		}
		return nil, err
	}
	return &redisLease{lock: lock}, nil
}

type redisLease struct {
	lock *redislock.Lock
}

func (l *redisLease) Release(ctx context.Context) error {
	err := l.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return nil
	}
	return err
}
