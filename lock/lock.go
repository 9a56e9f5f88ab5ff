// Package lock serializes work on one fee account across goroutines and
// server instances.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/fees_backend/models"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// AccountLocker hands out an exclusive per-account lock. The returned
// release func is safe to call once. Failing to get the lock within the
// wait budget is reported as models.ErrConcurrencyConflict so callers can
// retry it like any other lost update.
type AccountLocker interface {
	Lock(ctx context.Context, schoolId, accountId string) (release func(), err error)
}

func lockKey(schoolId, accountId string) string {
	return fmt.Sprintf("fee-account:%s:%s", schoolId, accountId)
}

type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
	logger *logrus.Logger
}

func NewRedisLocker(client *redislock.Client, ttl, wait time.Duration, logger *logrus.Logger) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, wait: wait, logger: logger}
}

func (l *RedisLocker) Lock(ctx context.Context, schoolId, accountId string) (func(), error) {
	if l.client == nil {
		return nil, errors.New("service not ready (redis lock not initialized)")
	}
	key := lockKey(schoolId, accountId)
	obtainCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	lk, err := l.client.Obtain(obtainCtx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(50 * time.Millisecond),
	})
	if errors.Is(err, redislock.ErrNotObtained) || (err != nil && obtainCtx.Err() != nil && ctx.Err() == nil) {
		return nil, errors.Wrapf(models.ErrConcurrencyConflict, "could not obtain lock %s", key)
	} else if err != nil {
		return nil, errors.Wrapf(err, "obtain lock %s", key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The lock may have expired already; the TTL bounds how long it can outlive us.
			if err := lk.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) && l.logger != nil {
				l.logger.WithFields(logrus.Fields{"field": "lock", "key": key}).Warn(err.Error())
			}
		})
	}, nil
}

// LocalLocker is an in-process AccountLocker for single-instance runs and tests.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
	wait  time.Duration
}

func NewLocalLocker(wait time.Duration) *LocalLocker {
	return &LocalLocker{slots: map[string]chan struct{}{}, wait: wait}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

func (l *LocalLocker) Lock(ctx context.Context, schoolId, accountId string) (func(), error) {
	key := lockKey(schoolId, accountId)
	ch := l.slot(key)

	timer := time.NewTimer(l.wait)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
	case <-timer.C:
		return nil, errors.Wrapf(models.ErrConcurrencyConflict, "could not obtain lock %s", key)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}, nil
}
