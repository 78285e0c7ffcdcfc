package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	DefaultOrgID int64

	Logger LoggerConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	Redis RedisConfig

	Cache CacheConfig
	Sweep SweepConfig

	Metrics MetricsConfig
}

type LoggerConfig struct {
	Level string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// CacheConfig tunes the balance cache and its reconciler.
type CacheConfig struct {
	TTLSeconds        int
	ReconcileSpec     string
	ReconcileBatch    int
	ReconcileDisabled bool
}

// SweepConfig tunes the reset/rollover sweep.
type SweepConfig struct {
	Spec      string
	BatchSize int
	Disabled  bool
}

type MetricsConfig struct {
	Enabled  bool
	Exporter string
	Endpoint string
}

// Load reads configuration from the environment and an optional .env file.
func Load() Config {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("APP_SERVICE", "entitle")
	v.SetDefault("APP_VERSION", "0.1.0")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DEFAULT_ORG", 0)
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("DATABASE_TYPE", "postgres")
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", "5432")
	v.SetDefault("DATABASE_NAME", "postgres")
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_IDLE_CONN", 10)
	v.SetDefault("DATABASE_MAX_OPEN_CONN", 50)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", 3600)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("BALANCE_CACHE_TTL_SECONDS", 300)
	v.SetDefault("BALANCE_CACHE_RECONCILE_SPEC", "@every 5m")
	v.SetDefault("BALANCE_CACHE_RECONCILE_BATCH", 100)
	v.SetDefault("BALANCE_CACHE_RECONCILE_DISABLED", false)

	v.SetDefault("ENTITLEMENT_SWEEP_SPEC", "@every 1m")
	v.SetDefault("ENTITLEMENT_SWEEP_BATCH", 200)
	v.SetDefault("ENTITLEMENT_SWEEP_DISABLED", false)

	v.SetDefault("METRICS_ENABLED", false)
	v.SetDefault("METRICS_EXPORTER", "grpc")
	v.SetDefault("METRICS_ENDPOINT", "localhost:4317")

	return Config{
		AppName:     v.GetString("APP_SERVICE"),
		AppVersion:  v.GetString("APP_VERSION"),
		Environment: v.GetString("ENVIRONMENT"),
		HTTPAddr:    v.GetString("HTTP_ADDR"),

		DefaultOrgID: v.GetInt64("DEFAULT_ORG"),

		Logger: LoggerConfig{Level: v.GetString("LOG_LEVEL")},

		DBType:            v.GetString("DATABASE_TYPE"),
		DBHost:            v.GetString("DATABASE_HOST"),
		DBPort:            v.GetString("DATABASE_PORT"),
		DBName:            v.GetString("DATABASE_NAME"),
		DBUser:            v.GetString("DATABASE_USER"),
		DBPassword:        v.GetString("DATABASE_PASSWORD"),
		DBSSLMode:         v.GetString("DATABASE_SSLMODE"),
		DBMaxIdleConn:     v.GetInt("DATABASE_MAX_IDLE_CONN"),
		DBMaxOpenConn:     v.GetInt("DATABASE_MAX_OPEN_CONN"),
		DBConnMaxLifetime: v.GetInt("DATABASE_CONN_MAX_LIFETIME"),

		Redis: RedisConfig{
			Enabled:  v.GetBool("REDIS_ENABLED"),
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},

		Cache: CacheConfig{
			TTLSeconds:        v.GetInt("BALANCE_CACHE_TTL_SECONDS"),
			ReconcileSpec:     v.GetString("BALANCE_CACHE_RECONCILE_SPEC"),
			ReconcileBatch:    v.GetInt("BALANCE_CACHE_RECONCILE_BATCH"),
			ReconcileDisabled: v.GetBool("BALANCE_CACHE_RECONCILE_DISABLED"),
		},

		Sweep: SweepConfig{
			Spec:      v.GetString("ENTITLEMENT_SWEEP_SPEC"),
			BatchSize: v.GetInt("ENTITLEMENT_SWEEP_BATCH"),
			Disabled:  v.GetBool("ENTITLEMENT_SWEEP_DISABLED"),
		},

		Metrics: MetricsConfig{
			Enabled:  v.GetBool("METRICS_ENABLED"),
			Exporter: strings.ToLower(v.GetString("METRICS_EXPORTER")),
			Endpoint: v.GetString("METRICS_ENDPOINT"),
		},
	}
}
