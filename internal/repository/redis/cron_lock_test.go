package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	red "github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*red.Client, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := red.NewClient(&red.Options{Addr: server.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})

	return client, server
}

func TestCronLockRepository_AcquireIsExclusive(t *testing.T) {
	client, _ := newTestRedis(t)
	ctx := context.Background()

	first := NewCronLockRepository(client, "cron")
	second := NewCronLockRepository(client, "cron")

	acquired, err := first.Acquire(ctx, "public", time.Minute)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if !acquired {
		t.Fatal("expected the first acquire to succeed")
	}

	acquired, err = second.Acquire(ctx, "public", time.Minute)
	if err != nil {
		t.Fatalf("second Acquire returned error: %v", err)
	}
	if acquired {
		t.Fatal("second holder acquired a held lease")
	}
}

func TestCronLockRepository_LeasesArePerApplication(t *testing.T) {
	client, _ := newTestRedis(t)
	ctx := context.Background()
	repo := NewCronLockRepository(client, "cron")

	for _, appID := range []string{"public", "partner"} {
		acquired, err := repo.Acquire(ctx, appID, time.Minute)
		if err != nil {
			t.Fatalf("Acquire(%s) returned error: %v", appID, err)
		}
		if !acquired {
			t.Fatalf("expected lease for %s", appID)
		}
	}
}

func TestCronLockRepository_ReleaseEnablesReacquire(t *testing.T) {
	client, _ := newTestRedis(t)
	ctx := context.Background()
	repo := NewCronLockRepository(client, "cron")

	if acquired, _ := repo.Acquire(ctx, "public", time.Minute); !acquired {
		t.Fatal("expected initial acquire to succeed")
	}
	if err := repo.Release(ctx, "public"); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}

	acquired, err := repo.Acquire(ctx, "public", time.Minute)
	if err != nil {
		t.Fatalf("reacquire returned error: %v", err)
	}
	if !acquired {
		t.Fatal("expected reacquire after release to succeed")
	}
}

func TestCronLockRepository_ReleaseWithoutLeaseIsNoop(t *testing.T) {
	client, server := newTestRedis(t)
	ctx := context.Background()
	repo := NewCronLockRepository(client, "cron")

	if err := repo.Release(ctx, "public"); err != nil {
		t.Fatalf("Release without a lease returned error: %v", err)
	}
	if server.Exists("cron:public") {
		t.Fatal("release created a key")
	}
}

func TestCronLockRepository_ExpiredLeaseIsNotReleased(t *testing.T) {
	client, server := newTestRedis(t)
	ctx := context.Background()

	crashed := NewCronLockRepository(client, "cron")
	if acquired, _ := crashed.Acquire(ctx, "public", time.Minute); !acquired {
		t.Fatal("expected initial acquire to succeed")
	}

	// The first holder's lease expires; a second holder takes over.
	server.FastForward(2 * time.Minute)

	takeover := NewCronLockRepository(client, "cron")
	if acquired, _ := takeover.Acquire(ctx, "public", time.Minute); !acquired {
		t.Fatal("expected takeover after expiry to succeed")
	}

	// The stale holder releasing must not remove the new holder's lease.
	if err := crashed.Release(ctx, "public"); err != nil {
		t.Fatalf("stale Release returned error: %v", err)
	}
	if !server.Exists("cron:public") {
		t.Fatal("stale release removed the new holder's lease")
	}
}
