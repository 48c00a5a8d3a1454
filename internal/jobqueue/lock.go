package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
)

// ErrLocked means another instance holds the lock.
var ErrLocked = errors.New("jobqueue: lock held elsewhere")

// Release gives a lock back.
type Release func(ctx context.Context) error

// Locker serializes work across instances.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// RedisLocker implements Locker with bsm/redislock.
type RedisLocker struct {
	client *redislock.Client
}

func NewRedisLocker(rdb redislock.RedisClient) *RedisLocker {
	return &RedisLocker{client: redislock.New(rdb)}
}

func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return func(ctx context.Context) error {
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return err
		}
		return nil
	}, nil
}

// LocalLocker is a single-process Locker for deployments without Redis.
type LocalLocker struct {
	held chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(chan struct{}, 1)}
}

func (l *LocalLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	select {
	case l.held <- struct{}{}:
		return func(context.Context) error {
			<-l.held
			return nil
		}, nil
	default:
		return nil, ErrLocked
	}
}
