package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App        AppSettings        `mapstructure:"app"`
	Postgres   PostgresSettings   `mapstructure:"postgres"`
	Redis      RedisSettings      `mapstructure:"redis"`
	Kafka      KafkaSettings      `mapstructure:"kafka"`
	Auth       AuthSettings       `mapstructure:"auth"`
	RateLimit  RateLimitSettings  `mapstructure:"rate_limit"`
	Telemetry  TelemetrySettings  `mapstructure:"telemetry"`
	Argon2     Argon2Settings     `mapstructure:"argon2"`
	BulkImport BulkImportSettings `mapstructure:"bulk_import"`

	// StoragePools maps pool id to a PostgreSQL DSN. Tenants maps tenant id
	// to the pool that stores it. Both come from the config file; tenants
	// without an entry are not routable.
	StoragePools map[string]string `mapstructure:"storage_pools"`
	Tenants      map[string]string `mapstructure:"tenants"`
}

type AppSettings struct {
	Name               string   `mapstructure:"name"`
	Env                string   `mapstructure:"env"`
	Host               string   `mapstructure:"host"`
	Port               int      `mapstructure:"port"`
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
}

// RateLimitSettings bounds how fast clients may stage new import records.
type RateLimitSettings struct {
	WindowDuration time.Duration `mapstructure:"window_duration"`
	AddMaxAttempts int           `mapstructure:"add_max_attempts"`
}

// PostgresSettings configures the application's home storage, which holds the
// staging table and default tenant data.
type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	DB             int    `mapstructure:"db"`
	Password       string `mapstructure:"password"`
	TLSEnabled     bool   `mapstructure:"tls_enabled"`
	CronLockPrefix string `mapstructure:"cron_lock_prefix"`
}

// KafkaSettings configures Kafka producer
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Async       bool     `mapstructure:"async"`
}

// AuthSettings configures admin API authentication.
type AuthSettings struct {
	AdminJWTSecret string        `mapstructure:"admin_jwt_secret"`
	AdminTokenTTL  time.Duration `mapstructure:"admin_token_ttl"`
}

// Argon2Settings configures Argon2id password hashing parameters
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

type TelemetrySettings struct {
	MetricsPort     int     `mapstructure:"metrics_port"`
	TracingEndpoint string  `mapstructure:"tracing_endpoint"`
	OTLPEndpoint    string  `mapstructure:"otlp_endpoint"`
	ServiceName     string  `mapstructure:"service_name"`
	SamplingRate    float64 `mapstructure:"sampling_rate"`
}

// BulkImportSettings tunes the background import machinery.
type BulkImportSettings struct {
	AppIDs            []string      `mapstructure:"app_ids"`
	BatchSize         int           `mapstructure:"batch_size"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	CronEnabled       bool          `mapstructure:"cron_enabled"`
	CronInterval      time.Duration `mapstructure:"cron_interval"`
	CronInitialDelay  time.Duration `mapstructure:"cron_initial_delay"`
	CronLockTTL       time.Duration `mapstructure:"cron_lock_ttl"`
	DisableValidation bool          `mapstructure:"disable_validation"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("IDENTITY")

	setDefaults(v)

	// The tenant and pool maps only come from a config file; environment
	// variables cover the scalar settings.
	if path := os.Getenv("IDENTITY_CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.cron_lock_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"auth.admin_jwt_secret",
		"auth.admin_token_ttl",
		"rate_limit.window_duration",
		"rate_limit.add_max_attempts",
		"telemetry.metrics_port",
		"telemetry.tracing_endpoint",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"argon2.memory",
		"argon2.iterations",
		"argon2.parallelism",
		"argon2.salt_length",
		"argon2.key_length",
		"bulk_import.app_ids",
		"bulk_import.batch_size",
		"bulk_import.poll_interval",
		"bulk_import.cron_enabled",
		"bulk_import.cron_interval",
		"bulk_import.cron_initial_delay",
		"bulk_import.cron_lock_ttl",
		"bulk_import.disable_validation",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// HomeStorageDSN renders the home storage settings as a pgx connection string.
func (p PostgresSettings) HomeStorageDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode,
	)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "identity-service")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.cors_allowed_origins", []string{"*"})

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "identity")
	v.SetDefault("postgres.password", "identity_password")
	v.SetDefault("postgres.database", "identity")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.cron_lock_prefix", "identity:bulkimport:cron")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "identity")
	v.SetDefault("kafka.async", true)

	v.SetDefault("auth.admin_jwt_secret", "")
	v.SetDefault("auth.admin_token_ttl", "15m")

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.add_max_attempts", 30)

	v.SetDefault("telemetry.metrics_port", 9090)
	v.SetDefault("telemetry.tracing_endpoint", "http://localhost:4317")
	v.SetDefault("telemetry.otlp_endpoint", "http://localhost:4318")
	v.SetDefault("telemetry.service_name", "identity-service")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("argon2.memory", 65536) // 64 MB
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)

	v.SetDefault("bulk_import.app_ids", []string{"public"})
	v.SetDefault("bulk_import.batch_size", 1000)
	v.SetDefault("bulk_import.poll_interval", "5s")
	v.SetDefault("bulk_import.cron_enabled", true)
	v.SetDefault("bulk_import.cron_interval", "1m")
	v.SetDefault("bulk_import.cron_initial_delay", "0s")
	v.SetDefault("bulk_import.cron_lock_ttl", "5m")
	v.SetDefault("bulk_import.disable_validation", false)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "IDENTITY_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
