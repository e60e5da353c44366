package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/arklim/social-platform-identity/internal/core/port"
)

// releaseScript deletes the lock key only if it still holds this process's
// token, so an expired lease taken over by another process is never removed.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// CronLockRepository implements port.CronLock as a Redis lease. The TTL bounds
// how long a crashed holder can block the next cycle.
type CronLockRepository struct {
	client    *redis.Client
	keyPrefix string

	mu     sync.Mutex
	tokens map[string]string
}

// NewCronLockRepository constructs a lease lock using the provided Redis client.
func NewCronLockRepository(client *redis.Client, keyPrefix string) *CronLockRepository {
	if keyPrefix == "" {
		keyPrefix = "bulkimport:cron"
	}
	return &CronLockRepository{
		client:    client,
		keyPrefix: keyPrefix,
		tokens:    make(map[string]string),
	}
}

// Acquire attempts to take the per-application lease. It returns false when
// another holder currently owns it.
func (r *CronLockRepository) Acquire(ctx context.Context, appID string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, r.key(appID), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return false, nil
	}

	r.mu.Lock()
	r.tokens[appID] = token
	r.mu.Unlock()

	return true, nil
}

// Release gives the lease back. Releasing a lease that expired and was taken
// over elsewhere is a no-op.
func (r *CronLockRepository) Release(ctx context.Context, appID string) error {
	r.mu.Lock()
	token, ok := r.tokens[appID]
	delete(r.tokens, appID)
	r.mu.Unlock()

	if !ok {
		return nil
	}

	if err := releaseScript.Run(ctx, r.client, []string{r.key(appID)}, token).Err(); err != nil {
		return fmt.Errorf("redis release lock: %w", err)
	}
	return nil
}

func (r *CronLockRepository) key(appID string) string {
	return fmt.Sprintf("%s:%s", r.keyPrefix, appID)
}

var _ port.CronLock = (*CronLockRepository)(nil)
