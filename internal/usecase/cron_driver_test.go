package usecase

import (
	"context"
	"sync"
	"testing"
	"time"
)

type stubLock struct {
	mu       sync.Mutex
	allow    bool
	acquired []string
	released []string
}

func (l *stubLock) Acquire(ctx context.Context, appID string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquired = append(l.acquired, appID)
	return l.allow, nil
}

func (l *stubLock) Release(ctx context.Context, appID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = append(l.released, appID)
	return nil
}

func (l *stubLock) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.acquired), len(l.released)
}

type cronRunner struct {
	mu   sync.Mutex
	runs []string
}

func (r *cronRunner) RunOnce(ctx context.Context, appID string, batchSize int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, appID)
	return 1, nil
}

func (r *cronRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCronDriver_RunsCycleAndReleasesLock(t *testing.T) {
	lock := &stubLock{allow: true}
	runner := &cronRunner{}
	driver := NewCronDriver(runner, lock, CronConfig{
		AppIDs:   []string{"public"},
		Interval: time.Hour,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	driver.Start(ctx)

	waitFor(t, "first cron cycle", func() bool { return runner.count() >= 1 })
	waitFor(t, "lock release", func() bool {
		_, released := lock.counts()
		return released >= 1
	})

	cancel()
	driver.Wait()

	if runner.count() != 1 {
		t.Fatalf("expected one cycle with an hour-long interval, got %d", runner.count())
	}
}

func TestCronDriver_SkipsCycleWhenLockHeldElsewhere(t *testing.T) {
	lock := &stubLock{allow: false}
	runner := &cronRunner{}
	driver := NewCronDriver(runner, lock, CronConfig{
		AppIDs:   []string{"public"},
		Interval: time.Hour,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	driver.Start(ctx)

	waitFor(t, "lock attempt", func() bool {
		acquired, _ := lock.counts()
		return acquired >= 1
	})

	cancel()
	driver.Wait()

	if runner.count() != 0 {
		t.Fatalf("cycle ran without holding the lock: %d runs", runner.count())
	}
	if _, released := lock.counts(); released != 0 {
		t.Fatalf("a lock that was never taken was released %d times", released)
	}
}

func TestCronDriver_DrivesEveryConfiguredApplication(t *testing.T) {
	lock := &stubLock{allow: true}
	runner := &cronRunner{}
	driver := NewCronDriver(runner, lock, CronConfig{
		AppIDs:   []string{"public", "partner"},
		Interval: time.Hour,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	driver.Start(ctx)

	waitFor(t, "both applications to run", func() bool { return runner.count() >= 2 })

	cancel()
	driver.Wait()

	seen := make(map[string]bool)
	runner.mu.Lock()
	for _, appID := range runner.runs {
		seen[appID] = true
	}
	runner.mu.Unlock()

	if !seen["public"] || !seen["partner"] {
		t.Fatalf("expected cycles for both applications, got %v", runner.runs)
	}
}

func TestCronDriver_InitialDelayPostponesFirstCycle(t *testing.T) {
	lock := &stubLock{allow: true}
	runner := &cronRunner{}
	driver := NewCronDriver(runner, lock, CronConfig{
		AppIDs:       []string{"public"},
		Interval:     time.Hour,
		InitialDelay: time.Hour,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	driver.Start(ctx)

	time.Sleep(50 * time.Millisecond)
	if runner.count() != 0 {
		t.Fatalf("cycle ran before the initial delay elapsed: %d runs", runner.count())
	}

	cancel()
	driver.Wait()
}
