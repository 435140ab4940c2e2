package utils

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultLockWait = 2 * time.Second

// KeyLocker serializes work on a string key across processes with a Redis lock.
// It is best-effort: when Redis is missing or the lock cannot be obtained the
// caller proceeds unlocked and the database unique index remains the backstop.
type KeyLocker struct {
	locker *redislock.Client
	logger *logrus.Logger
	prefix string
	wait   time.Duration
}

// NewKeyLocker builds a locker on top of client. A nil client yields a no-op locker.
func NewKeyLocker(client *redis.Client, logger *logrus.Logger, prefix string) *KeyLocker {
	l := &KeyLocker{
		logger: logger,
		prefix: prefix,
		wait:   defaultLockWait,
	}
	if client != nil {
		l.locker = redislock.New(client)
	}
	return l
}

// Acquire obtains the lock for key and returns its release func. The returned
// func is never nil.
func (l *KeyLocker) Acquire(ctx context.Context, key string, ttl time.Duration) func() {
	noop := func() {}
	if l == nil || l.locker == nil {
		return noop
	}
	lockKey := l.prefix + key

	obtainCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()
	lock, err := l.locker.Obtain(obtainCtx, lockKey, ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(25 * time.Millisecond),
	})
	if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
		l.warn(lockKey, "could not obtain redis lock; proceeding without redis lock")
		return noop
	} else if err != nil {
		l.warn(lockKey, "error obtaining redis lock; proceeding without redis lock: "+err.Error())
		return noop
	}

	return func() {
		if releaseErr := lock.Release(context.WithoutCancel(ctx)); releaseErr != nil && !errors.Is(releaseErr, redislock.ErrLockNotHeld) {
			l.warn(lockKey, "failed to release redis lock: "+releaseErr.Error())
		}
	}
}

func (l *KeyLocker) warn(lockKey string, msg string) {
	if l.logger == nil {
		return
	}
	l.logger.WithFields(logrus.Fields{
		"field":    "KeyLocker",
		"lock_key": lockKey,
	}).Warn(msg)
}
