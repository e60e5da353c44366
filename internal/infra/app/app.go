package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-identity/internal/core/port"
	"github.com/arklim/social-platform-identity/internal/infra/config"
	"github.com/arklim/social-platform-identity/internal/infra/database"
	kafkainfra "github.com/arklim/social-platform-identity/internal/infra/kafka"
	"github.com/arklim/social-platform-identity/internal/infra/logger"
	"github.com/arklim/social-platform-identity/internal/infra/multitenancy"
	redisinfra "github.com/arklim/social-platform-identity/internal/infra/redis"
	"github.com/arklim/social-platform-identity/internal/infra/security"
	"github.com/arklim/social-platform-identity/internal/infra/telemetry"
	postgresrepo "github.com/arklim/social-platform-identity/internal/repository/postgres"
	redisrepo "github.com/arklim/social-platform-identity/internal/repository/redis"
	"github.com/arklim/social-platform-identity/internal/transport/http/middleware"
	"github.com/arklim/social-platform-identity/internal/transport/http/routes"
	"github.com/arklim/social-platform-identity/internal/usecase"
)

type Application struct {
	cfg           *config.AppConfig
	engine        *gin.Engine
	logger        *zap.Logger
	telemetry     *telemetry.Provider
	pool          *pgxpool.Pool
	redis         *redisinfra.Client
	producer      *kafkainfra.Producer
	jobController *usecase.JobController
	cron          *usecase.CronDriver
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	provider, err := telemetry.Attach(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init tenant registry: %w", err)
	}

	hasher, err := security.NewArgon2Hasher(port.Argon2Params{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init password hasher: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	// Initialize Kafka event publisher
	var producer *kafkainfra.Producer
	var eventPublisher port.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaProducer, err := kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			producer = kafkaProducer
			eventPublisher = kafkainfra.NewEventPublisher(kafkaProducer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	stagingRepo := postgresrepo.NewStagingRepository(pool)
	identityRepo := postgresrepo.NewIdentityRepository()

	importer := usecase.NewBulkImportService(
		stagingRepo,
		identityRepo,
		registry,
		func() port.StoragePools { return postgresrepo.NewPoolSet(registry, log) },
		hasher,
		eventPublisher,
		log,
	).WithMetrics(provider.ImportMetrics())
	if cfg.BulkImport.DisableValidation {
		importer = importer.WithValidationDisabled()
	}

	appIDs := cfg.BulkImport.AppIDs
	if len(appIDs) == 0 {
		appIDs = []string{"public"}
	}

	jobController := usecase.NewJobController(importer, usecase.JobControllerConfig{
		AppID:        appIDs[0],
		BatchSize:    cfg.BulkImport.BatchSize,
		PollInterval: cfg.BulkImport.PollInterval,
	}, log)

	var cron *usecase.CronDriver
	if cfg.BulkImport.CronEnabled {
		lock := redisrepo.NewCronLockRepository(redisClient.Client(), cfg.Redis.CronLockPrefix)
		cron = usecase.NewCronDriver(importer, lock, usecase.CronConfig{
			AppIDs:       appIDs,
			Interval:     cfg.BulkImport.CronInterval,
			InitialDelay: cfg.BulkImport.CronInitialDelay,
			BatchSize:    cfg.BulkImport.BatchSize,
			LockTTL:      cfg.BulkImport.CronLockTTL,
		}, log)
	}

	rateLimitWindow := cfg.RateLimit.WindowDuration
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	rateLimitStore := redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: "identity:rate-limit",
		TTL:       rateLimitWindow * 2,
	})
	rateLimiter := middleware.NewRateLimiter(rateLimitStore, log)

	engine := routes.Register(routes.Dependencies{
		Config:        cfg,
		Logger:        log,
		RateLimiter:   rateLimiter,
		Staging:       stagingRepo,
		Importer:      importer,
		JobController: jobController,
		Database:      pool,
		Cache:         redisClient,
	})

	return &Application{
		cfg:           cfg,
		engine:        engine,
		logger:        log,
		telemetry:     provider,
		pool:          pool,
		redis:         redisClient,
		producer:      producer,
		jobController: jobController,
		cron:          cron,
	}, nil
}

// buildRegistry maps tenants to storage pools from configuration. With no
// explicit topology, every application's default tenant lives on the home
// storage.
func buildRegistry(cfg *config.AppConfig) (*multitenancy.Registry, error) {
	pools := cfg.StoragePools
	tenants := cfg.Tenants

	if len(pools) == 0 {
		pools = map[string]string{"home": cfg.Postgres.HomeStorageDSN()}
	}
	if len(tenants) == 0 {
		tenants = map[string]string{}
		for poolID := range pools {
			tenants["public"] = poolID
			break
		}
	}

	return multitenancy.NewRegistry(tenants, pools)
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if a.pool != nil {
			a.pool.Close()
		}
	}()
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()
	defer func() {
		if a.producer != nil {
			_ = a.producer.Close()
		}
	}()
	defer func() {
		// Flush any spans the last batches produced.
		if err := a.telemetry.Shutdown(context.Background()); err != nil {
			a.logger.Warn("shutdown telemetry failed", zap.Error(err))
		}
	}()

	cronCtx, cancelCron := context.WithCancel(ctx)
	defer cancelCron()
	if a.cron != nil {
		a.cron.Start(cronCtx)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting identity API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	shutdown := func() error {
		// Quiesce background import work before the HTTP listener goes away.
		a.jobController.Stop()
		cancelCron()
		if a.cron != nil {
			a.cron.Wait()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	}

	select {
	case <-ctx.Done():
		return shutdown()
	case err := <-serverErrCh:
		a.jobController.Stop()
		cancelCron()
		if a.cron != nil {
			a.cron.Wait()
		}
		return err
	}
}
