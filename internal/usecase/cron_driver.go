package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/social-platform-identity/internal/core/port"
)

// CronConfig configures the periodic per-application import trigger.
type CronConfig struct {
	AppIDs       []string
	Interval     time.Duration
	InitialDelay time.Duration
	BatchSize    int
	LockTTL      time.Duration
}

// CronDriver triggers a bounded import cycle per application on a fixed
// interval. The per-application lease lock guarantees that invocations for
// the same application never overlap, even across processes.
type CronDriver struct {
	runner BatchRunner
	lock   port.CronLock
	cfg    CronConfig
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewCronDriver constructs the driver. It does nothing until Start is called.
func NewCronDriver(runner BatchRunner, lock port.CronLock, cfg CronConfig, logger *zap.Logger) *CronDriver {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CronDriver{
		runner: runner,
		lock:   lock,
		cfg:    cfg,
		logger: logger,
	}
}

// Start launches one ticker goroutine per configured application. The
// goroutines exit when ctx is cancelled.
func (d *CronDriver) Start(ctx context.Context) {
	for _, appID := range d.cfg.AppIDs {
		d.wg.Add(1)
		go d.runApp(ctx, appID)
	}
}

// Wait blocks until every application goroutine has exited.
func (d *CronDriver) Wait() {
	d.wg.Wait()
}

func (d *CronDriver) runApp(ctx context.Context, appID string) {
	defer d.wg.Done()

	if d.cfg.InitialDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.cfg.InitialDelay):
		}
	}

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.tick(ctx, appID)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx, appID)
		}
	}
}

func (d *CronDriver) tick(ctx context.Context, appID string) {
	acquired, err := d.lock.Acquire(ctx, appID, d.cfg.LockTTL)
	if err != nil {
		d.logger.Warn("acquire cron lock failed", zap.String("app_id", appID), zap.Error(err))
		return
	}
	if !acquired {
		d.logger.Debug("cron cycle skipped, lock held elsewhere", zap.String("app_id", appID))
		return
	}
	defer func() {
		if err := d.lock.Release(context.WithoutCancel(ctx), appID); err != nil {
			d.logger.Warn("release cron lock failed", zap.String("app_id", appID), zap.Error(err))
		}
	}()

	processed, err := d.runner.RunOnce(ctx, appID, d.cfg.BatchSize)
	if err != nil {
		d.logger.Error("cron import cycle failed", zap.String("app_id", appID), zap.Error(err))
		return
	}
	if processed > 0 {
		d.logger.Info("cron import cycle completed",
			zap.String("app_id", appID),
			zap.Int("records", processed),
		)
	}
}
