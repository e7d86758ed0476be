package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unclebandit/campaign-dispatch/internal/logx"
)

// Lock is a single-owner mutex shared across processes. A Lock value is
// used by one goroutine; take a new one per holder.
type Lock interface {
	// Acquire does not block; it reports whether the lock was taken.
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
	Extend(ctx context.Context, ttl time.Duration) error
}

// Provider hands out locks from Redis when configured, otherwise from
// PostgreSQL advisory locks.
type Provider struct {
	Redis *redis.Client
	DB    *sql.DB
	TTL   time.Duration
}

func (p *Provider) For(key string) Lock {
	if p.Redis != nil {
		return NewRedisLock(p.Redis, key, p.TTL)
	}
	return NewPGAdvisoryLock(p.DB, key)
}

// CampaignKey names the lock guarding one campaign's fan-out.
func CampaignKey(workspaceID, campaignID int64) string {
	return fmt.Sprintf("campaign-dispatch:%d:%d", workspaceID, campaignID)
}

// KeepAlive extends l every ttl/3 until the returned stop func is called.
// If an extension finds the lock owned elsewhere, it calls lost with
// ErrNotOwner and stops extending. Other errors are retried on the next tick.
func KeepAlive(ctx context.Context, l Lock, ttl time.Duration, lost context.CancelCauseFunc) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := l.Extend(ctx, ttl)
				if err == nil {
					continue
				}
				if errors.Is(err, ErrNotOwner) {
					logx.L().Errorw("lock_lost", "error", err)
					if lost != nil {
						lost(err)
					}
					return
				}
				logx.L().Warnw("lock_extend_failed", "error", err)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
