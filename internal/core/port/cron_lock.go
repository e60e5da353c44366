package port

import (
	"context"
	"time"
)

// CronLock serializes cron invocations per application so that two processes
// never run overlapping import cycles for the same app.
type CronLock interface {
	// Acquire attempts to take the per-application lease. It returns false
	// without error when another holder owns the lease.
	Acquire(ctx context.Context, appID string, ttl time.Duration) (bool, error)
	// Release gives the lease back. Releasing a lease held by someone else is
	// a no-op.
	Release(ctx context.Context, appID string) error
}
