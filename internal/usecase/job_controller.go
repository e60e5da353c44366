package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/social-platform-identity/internal/core/domain"
)

// drainInterval is the pause between batches while the staging table still has
// pending rows (the last fetch came back full).
const drainInterval = 100 * time.Millisecond

// JobControllerConfig configures the background import job.
type JobControllerConfig struct {
	AppID        string
	BatchSize    int
	PollInterval time.Duration
}

// JobController is the externally visible state machine of the continuously
// running import job. All state transitions happen under one mutex, so two
// concurrent Start calls can never create two execution loops.
type JobController struct {
	mu     sync.Mutex
	state  domain.JobState
	cancel context.CancelFunc
	done   chan struct{}

	runner BatchRunner
	cfg    JobControllerConfig
	logger *zap.Logger
}

// NewJobController constructs a controller in the STOPPED state.
func NewJobController(runner BatchRunner, cfg JobControllerConfig, logger *zap.Logger) *JobController {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobController{
		state:  domain.JobStateStopped,
		runner: runner,
		cfg:    cfg,
		logger: logger,
	}
}

// Start launches the detached execution loop and returns the resulting state.
// Idempotent: a second Start while running returns STARTED without creating a
// second loop. batchSize <= 0 falls back to the configured default.
func (c *JobController) Start(batchSize int) domain.JobState {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == domain.JobStateStarted {
		return c.state
	}

	if batchSize <= 0 {
		batchSize = c.cfg.BatchSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.state = domain.JobStateStarted

	go c.loop(ctx, batchSize, done)

	return c.state
}

// Stop signals the loop to exit after its current batch completes and waits
// for it to quiesce. Idempotent when already STOPPED.
func (c *JobController) Stop() domain.JobState {
	c.mu.Lock()
	if c.state == domain.JobStateStopped {
		c.mu.Unlock()
		return domain.JobStateStopped
	}
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()
	<-done

	c.mu.Lock()
	c.state = domain.JobStateStopped
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	return domain.JobStateStopped
}

// Status returns the current state without side effects.
func (c *JobController) Status() domain.JobState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *JobController) loop(ctx context.Context, batchSize int, done chan struct{}) {
	defer close(done)

	c.logger.Info("bulk import job started",
		zap.String("app_id", c.cfg.AppID),
		zap.Int("batch_size", batchSize),
	)

	for {
		// The stop signal only interrupts the sleep below. An in-flight
		// batch always runs to completion, so it gets a context that
		// survives Stop's cancel.
		processed, err := c.runner.RunOnce(context.WithoutCancel(ctx), c.cfg.AppID, batchSize)
		if err != nil && ctx.Err() == nil {
			c.logger.Error("bulk import batch failed", zap.Error(err))
		}

		wait := c.cfg.PollInterval
		if processed >= batchSize {
			wait = drainInterval
		}

		select {
		case <-ctx.Done():
			c.logger.Info("bulk import job stopped", zap.String("app_id", c.cfg.AppID))
			return
		case <-time.After(wait):
		}
	}
}
