package lease

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

type Locker interface {
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Refresh(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) (bool, error)
}

// RunExclusive runs fn only while this process holds the lease on key. The
// context passed to fn is cancelled when the lease is lost; RunExclusive then
// waits to reacquire it. It returns when ctx is done or fn fails.
func RunExclusive(ctx context.Context, locker Locker, key string, ttl time.Duration, logger *slog.Logger, fn func(ctx context.Context) error) error {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	token, err := Token()
	if err != nil {
		return fmt.Errorf("failed to generate lease token: %w", err)
	}
	interval := ttl / 3

	for {
		ok, err := locker.Acquire(ctx, key, token, ttl)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			logger.Warn("failed to acquire lease", "key", key, "error", err)
		case ok:
			logger.Info("lease acquired", "key", key)
			if err := holdAndRun(ctx, locker, key, token, ttl, interval, logger, fn); err != nil {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("lease lost", "key", key)
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

func holdAndRun(ctx context.Context, locker Locker, key, token string, ttl, interval time.Duration, logger *slog.Logger, fn func(ctx context.Context) error) error {
	leaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	refreshDone := make(chan struct{})
	go func() {
		defer close(refreshDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-leaseCtx.Done():
				return
			case <-ticker.C:
				ok, err := locker.Refresh(leaseCtx, key, token, ttl)
				if leaseCtx.Err() != nil {
					return
				}
				if err != nil || !ok {
					logger.Warn("failed to refresh lease", "key", key, "error", err)
					cancel()
					return
				}
			}
		}
	}()

	err := fn(leaseCtx)
	cancel()
	<-refreshDone

	releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer releaseCancel()
	if _, rerr := locker.Release(releaseCtx, key, token); rerr != nil {
		logger.Warn("failed to release lease", "key", key, "error", rerr)
	}
	return err
}
