// Package joblock guards jobs that must have at most one active run. With a
// redis address configured the lock is shared across processes; otherwise it
// only covers the current process.
package joblock

import (
	"context"
	"errors"
	"time"
)

var (
	ErrLockHeld       = errors.New("job_lock_held")
	ErrInvalidLockKey = errors.New("invalid_lock_key")
)

// Locker acquires named locks. Release must be called with the token returned
// by TryLock and is a no-op when the token no longer owns the key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// Run executes fn while holding key. It returns ErrLockHeld without calling
// fn when another run owns the key.
func Run(ctx context.Context, locker Locker, key string, ttl time.Duration, fn func(context.Context) error) error {
	token, ok, err := locker.TryLock(ctx, key, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockHeld
	}
	defer func() {
		// release on a fresh context so a cancelled run still frees the key
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = locker.Release(releaseCtx, key, token)
	}()
	return fn(ctx)
}
