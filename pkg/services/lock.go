package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/new-bakery/nga/pkg/apperrors"
	"github.com/new-bakery/nga/pkg/retry"
)

// Locker grants short-lived exclusive leases on keys. A lease expires on
// its own after ttl if its holder never releases it.
type Locker interface {
	// TryLock attempts to take the lease once. ok is false when another
	// holder has it. unlock releases only this holder's lease.
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error)
}

// LockPolicy bounds how long a caller waits for a lease.
type LockPolicy struct {
	Retries int
	Backoff time.Duration
	TTL     time.Duration
}

// DefaultLockPolicy waits up to ten retries, half a second apart.
func DefaultLockPolicy() LockPolicy {
	return LockPolicy{Retries: 10, Backoff: 500 * time.Millisecond, TTL: 10 * time.Second}
}

var errLockHeld = errors.New("lock held by another holder")

// withLock runs fn while holding the lease on key. When the lease cannot be
// taken within the policy's retries, fn never runs and the returned error
// wraps ErrLockAcquisition. The lease is released on every exit path.
func withLock(ctx context.Context, locker Locker, policy LockPolicy, key string, fn func() error) (err error) {
	var unlock func(context.Context) error
	acquireErr := retry.Do(ctx, retry.Fixed(policy.Retries, policy.Backoff), func() error {
		release, ok, err := locker.TryLock(ctx, key, policy.TTL)
		if err != nil {
			return err
		}
		if !ok {
			return errLockHeld
		}
		unlock = release
		return nil
	})
	if acquireErr != nil {
		return fmt.Errorf("%w: %s after %d retries: %v", apperrors.ErrLockAcquisition, key, policy.Retries, acquireErr)
	}

	defer func() {
		if unlockErr := unlock(context.WithoutCancel(ctx)); unlockErr != nil && err == nil {
			err = fmt.Errorf("release %s: %w", key, unlockErr)
		}
	}()

	return fn()
}

// LocalLocker is an in-process Locker for single-instance deployments and
// tests.
type LocalLocker struct {
	mu     sync.Mutex
	leases map[string]localLease
	now    func() time.Time
}

type localLease struct {
	token   string
	expires time.Time
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		leases: make(map[string]localLease),
		now:    time.Now,
	}
}

// TryLock implements Locker.
func (l *LocalLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if lease, held := l.leases[key]; held && now.Before(lease.expires) {
		return nil, false, nil
	}

	token := uuid.NewString()
	l.leases[key] = localLease{token: token, expires: now.Add(ttl)}

	unlock := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if lease, held := l.leases[key]; held && lease.token == token {
			delete(l.leases, key)
		}
		return nil
	}
	return unlock, true, nil
}

func statusLockKey(sourceID uuid.UUID) string {
	return "source_status_lock:" + sourceID.String()
}
