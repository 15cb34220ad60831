package lock

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-discovery/internal/model"
)

const (
	startKeyPrefix = "lock:start:"

	DefaultTTL        = 10 * time.Second
	DefaultWaitBudget = 1500 * time.Millisecond
)

var errHeld = errors.New("lock: held")

// Coordinator runs callbacks under a best-effort per-key lock.
type Coordinator struct {
	Locker     Locker
	TTL        time.Duration
	WaitBudget time.Duration
}

// NewCoordinator returns a Coordinator with default TTL and wait budget.
func NewCoordinator(l Locker) *Coordinator {
	return &Coordinator{Locker: l, TTL: DefaultTTL, WaitBudget: DefaultWaitBudget}
}

// SponsorKey is the start-lock key for a sponsor name.
func SponsorKey(sponsorName string) string {
	return startKeyPrefix + model.FoldName(sponsorName)
}

func (c *Coordinator) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = c.WaitBudget
	return bo
}

// acquire retries TryAcquire within WaitBudget. It returns ok=false without
// error when the lock stayed held, and an error only when the locker fails.
func (c *Coordinator) acquire(ctx context.Context, key string) (string, bool, error) {
	var token string
	err := backoff.Retry(func() error {
		t, ok, err := c.Locker.TryAcquire(ctx, key, c.TTL)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errHeld
		}
		token = t
		return nil
	}, backoff.WithContext(c.newBackOff(), ctx))

	switch {
	case err == nil:
		return token, true, nil
	case errors.Is(err, errHeld):
		return "", false, nil
	default:
		return "", false, err
	}
}

// WithLock runs fn while holding key. fn still runs when the lock stays
// held past the wait budget or when the locker is unavailable; callers
// rely on their own active-run lookup inside fn to avoid duplicates.
func WithLock[T any](ctx context.Context, c *Coordinator, key string, fn func(context.Context) (T, error)) (T, error) {
	if c == nil || c.Locker == nil {
		return fn(ctx)
	}
	log := zap.L().With(zap.String("lock_key", key))

	token, ok, err := c.acquire(ctx, key)
	if err != nil {
		log.Warn("lock: locker unavailable, running unlocked", zap.Error(err))
		return fn(ctx)
	}
	if !ok {
		log.Debug("lock: still held after wait budget, proceeding")
		return fn(ctx)
	}

	defer func() {
		if relErr := c.Locker.Release(context.WithoutCancel(ctx), key, token); relErr != nil {
			log.Warn("lock: release failed", zap.Error(relErr))
		}
	}()
	return fn(ctx)
}
