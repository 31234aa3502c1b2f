package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

type HTTPTimeoutsConfig struct {
	Read     time.Duration
	Idle     time.Duration
	Write    time.Duration
	Shutdown time.Duration // how long we give the shutdown process to gracefully terminate
}

type HTTPConfig struct {
	Port     int
	Timeouts HTTPTimeoutsConfig
}

// Allowance is a per-client token bucket.
type Allowance struct {
	RPS   int
	Burst int
}

// RateLimiterConfig splits clients' allowances by request class: API
// reads, API writes and image delivery each drain their own bucket.
type RateLimiterConfig struct {
	Read   Allowance
	Write  Allowance
	Images Allowance
}

type LoggerConfig struct {
	Level slog.Level
}

type AppConfig struct {
	Name           string
	Version        string
	Environment    string // 'dev' | 'prod'
	AssetNamespace string
}

type DBConfig struct {
	Path           string
	MigrationsPath string
	BusyTimeout    time.Duration
	JournalMode    string // 'wal' | 'delete' | 'truncate'
}

type ProxyConfig struct {
	Trusted bool
}

type TelemetryConfig struct {
	EnableTelemetry bool
	OtelEndpoint    string
}

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
}

type StorageConfig struct {
	Driver    string // 'local' | 's3' | 'memory'
	LocalRoot string
	S3        S3Config
}

type IngestConfig struct {
	FetchTimeout time.Duration
	MaxBytes     int64
	UserAgent    string
	Prefix       string // blob key prefix for ingested images
	Workers      int    // webp variant workers
}

type CORSConfig struct {
	AllowedOrigins []string
}

type Config struct {
	App     AppConfig
	DB      DBConfig
	Proxy   ProxyConfig
	HTTP    HTTPConfig
	Limiter RateLimiterConfig
	Logger  LoggerConfig
	Metrics TelemetryConfig
	Storage StorageConfig
	Ingest  IngestConfig
	CORS    CORSConfig
}

func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:           "postengine",
			Version:        "dev",
			Environment:    "prod",
			AssetNamespace: "570e8400-c29b-45d4-a716-446655440700",
		},
		DB: DBConfig{
			Path:           "postengine.db",
			MigrationsPath: "./migrations",
			BusyTimeout:    5 * time.Second,
			JournalMode:    "wal",
		},
		Proxy: ProxyConfig{
			Trusted: true,
		},
		HTTP: HTTPConfig{
			Port: 3000,
			Timeouts: HTTPTimeoutsConfig{
				Read:     5 * time.Second,
				Write:    30 * time.Second, // create/update wait on remote image fetches
				Idle:     10 * time.Minute,
				Shutdown: 10 * time.Second,
			},
		},
		Limiter: RateLimiterConfig{
			Read:   Allowance{RPS: 20, Burst: 50},
			Write:  Allowance{RPS: 2, Burst: 10}, // each write may fetch remote images
			Images: Allowance{RPS: 50, Burst: 200},
		},
		Logger: LoggerConfig{
			Level: slog.LevelInfo,
		},
		Metrics: TelemetryConfig{
			OtelEndpoint: "localhost:4318",
		},
		Storage: StorageConfig{
			Driver:    "local",
			LocalRoot: "./storage",
			S3: S3Config{
				Region: "garage",
			},
		},
		Ingest: IngestConfig{
			FetchTimeout: 15 * time.Second,
			MaxBytes:     20 << 20,
			UserAgent:    "postengine-ingest/1.0",
			Prefix:       "images",
			Workers:      2,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:5173"},
		},
	}
}

func LoadWithDefaults() *Config {
	defaults := DefaultConfig()
	return &Config{
		App: AppConfig{
			Name:           getEnv("APP_NAME", defaults.App.Name),
			Version:        getEnv("APP_VERSION", defaults.App.Version),
			Environment:    getEnv("APP_ENV", defaults.App.Environment),
			AssetNamespace: getEnv("ASSET_NAMESPACE", defaults.App.AssetNamespace),
		},
		DB: DBConfig{
			Path:           getEnv("DB_PATH", defaults.DB.Path),
			MigrationsPath: getEnv("DB_MIGRATIONS_PATH", defaults.DB.MigrationsPath),
			BusyTimeout:    getEnvAsDuration("DB_BUSY_TIMEOUT", defaults.DB.BusyTimeout),
			JournalMode:    strings.ToLower(getEnv("DB_JOURNAL_MODE", defaults.DB.JournalMode)),
		},
		Proxy: ProxyConfig{
			Trusted: getEnvAsBool("PROXY_TRUSTED", defaults.Proxy.Trusted),
		},
		HTTP: HTTPConfig{
			Port: getEnvAsInt("HTTP_PORT", defaults.HTTP.Port),
			Timeouts: HTTPTimeoutsConfig{
				Read:     getEnvAsDuration("HTTP_READ_TIMEOUT", defaults.HTTP.Timeouts.Read),
				Write:    getEnvAsDuration("HTTP_WRITE_TIMEOUT", defaults.HTTP.Timeouts.Write),
				Idle:     getEnvAsDuration("HTTP_IDLE_TIMEOUT", defaults.HTTP.Timeouts.Idle),
				Shutdown: getEnvAsDuration("HTTP_SHUTDOWN_DELAY", defaults.HTTP.Timeouts.Shutdown),
			},
		},
		Limiter: RateLimiterConfig{
			Read:   getEnvAsAllowance("LIMITER", defaults.Limiter.Read),
			Write:  getEnvAsAllowance("LIMITER_WRITE", defaults.Limiter.Write),
			Images: getEnvAsAllowance("LIMITER_IMAGES", defaults.Limiter.Images),
		},
		Logger: LoggerConfig{
			Level: getEnvAsLogLevel("LOGGER_LEVEL", defaults.Logger.Level),
		},
		Metrics: TelemetryConfig{
			EnableTelemetry: getEnvAsBool("ENABLE_TELEMETRY", false),
			OtelEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", defaults.Metrics.OtelEndpoint),
		},
		Storage: StorageConfig{
			Driver:    getEnv("STORAGE_DRIVER", defaults.Storage.Driver),
			LocalRoot: getEnv("STORAGE_LOCAL_ROOT", defaults.Storage.LocalRoot),
			S3: S3Config{
				Endpoint:  getEnv("S3_ENDPOINT", defaults.Storage.S3.Endpoint),
				Region:    getEnv("S3_REGION", defaults.Storage.S3.Region),
				AccessKey: getEnv("S3_ACCESS_KEY", ""),
				SecretKey: getEnv("S3_SECRET_KEY", ""),
				Bucket:    getEnv("S3_BUCKET", defaults.Storage.S3.Bucket),
			},
		},
		Ingest: IngestConfig{
			FetchTimeout: getEnvAsDuration("INGEST_FETCH_TIMEOUT", defaults.Ingest.FetchTimeout),
			MaxBytes:     int64(getEnvAsInt("INGEST_MAX_BYTES", int(defaults.Ingest.MaxBytes))),
			UserAgent:    getEnv("INGEST_USER_AGENT", defaults.Ingest.UserAgent),
			Prefix:       getEnv("INGEST_PREFIX", defaults.Ingest.Prefix),
			Workers:      getEnvAsInt("INGEST_VARIANT_WORKERS", defaults.Ingest.Workers),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsList("CORS_ORIGINS", defaults.CORS.AllowedOrigins),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsInt(key string, fallback int) int {
	valueStr, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return fallback
	}
	return value
}

// getEnvAsAllowance reads <prefix>_RPS and <prefix>_BURST.
func getEnvAsAllowance(prefix string, fallback Allowance) Allowance {
	return Allowance{
		RPS:   getEnvAsInt(prefix+"_RPS", fallback.RPS),
		Burst: getEnvAsInt(prefix+"_BURST", fallback.Burst),
	}
}

func getEnvAsList(key string, fallback []string) []string {
	valueStr, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(valueStr) == "" {
		return fallback
	}

	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}

func getEnvAsLogLevel(key string, fallback slog.Level) slog.Level {
	valueStr, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}

	switch strings.ToLower(valueStr) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}

func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("APP_NAME must not be empty")
	}
	if s := strings.ToLower(c.App.Environment); s != "dev" && s != "prod" {
		return fmt.Errorf(`APP_ENV must be "dev" or "prod"`)
	}
	if c.DB.Path == "" {
		return fmt.Errorf("DB_PATH must not be empty")
	}
	if c.DB.MigrationsPath == "" {
		return fmt.Errorf("DB_MIGRATIONS_PATH must not be empty")
	}
	if c.DB.BusyTimeout < 0 {
		return fmt.Errorf("DB_BUSY_TIMEOUT must not be negative, got %s", c.DB.BusyTimeout)
	}
	// rollback needs a real journal
	switch c.DB.JournalMode {
	case "wal", "delete", "truncate":
	default:
		return fmt.Errorf(`DB_JOURNAL_MODE must be "wal", "delete" or "truncate", got %q`, c.DB.JournalMode)
	}
	// stay away from well-known ports
	if p := c.HTTP.Port; p < 1024 || p > 65535 {
		return fmt.Errorf("HTTP_PORT must be a positive int between 1024 and 65535, got %d", p)
	}
	if c.HTTP.Timeouts.Read <= 0 {
		return fmt.Errorf("HTTP_READ_TIMEOUT must be positive (e.g., 5s), got %s", c.HTTP.Timeouts.Read)
	}
	if c.HTTP.Timeouts.Write <= 0 {
		return fmt.Errorf("HTTP_WRITE_TIMEOUT must be positive (e.g., 30s), got %s", c.HTTP.Timeouts.Write)
	}
	if c.HTTP.Timeouts.Idle <= 0 {
		return fmt.Errorf("HTTP_IDLE_TIMEOUT must be positive (e.g., 2m), got %s", c.HTTP.Timeouts.Idle)
	}
	if c.HTTP.Timeouts.Shutdown <= 0 {
		return fmt.Errorf("HTTP_SHUTDOWN_DELAY must be positive (e.g., 10s), got %s", c.HTTP.Timeouts.Shutdown)
	}
	for prefix, a := range map[string]Allowance{
		"LIMITER":        c.Limiter.Read,
		"LIMITER_WRITE":  c.Limiter.Write,
		"LIMITER_IMAGES": c.Limiter.Images,
	} {
		if a.RPS <= 0 {
			return fmt.Errorf("%s_RPS must be positive, got %d", prefix, a.RPS)
		}
		if a.Burst <= 0 {
			return fmt.Errorf("%s_BURST must be positive, got %d", prefix, a.Burst)
		}
	}
	switch c.Storage.Driver {
	case "local":
		if c.Storage.LocalRoot == "" {
			return fmt.Errorf("STORAGE_LOCAL_ROOT must not be empty")
		}
	case "s3":
		if c.Storage.S3.Endpoint == "" || c.Storage.S3.Bucket == "" {
			return fmt.Errorf("S3_ENDPOINT and S3_BUCKET must be set when STORAGE_DRIVER is s3")
		}
		if c.Storage.S3.AccessKey == "" || c.Storage.S3.SecretKey == "" {
			return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY must be set when STORAGE_DRIVER is s3")
		}
	case "memory":
	default:
		return fmt.Errorf(`STORAGE_DRIVER must be "local", "s3" or "memory", got %q`, c.Storage.Driver)
	}
	// unbounded fetches are what we are guarding against
	if c.Ingest.FetchTimeout <= 0 {
		return fmt.Errorf("INGEST_FETCH_TIMEOUT must be positive (e.g., 15s), got %s", c.Ingest.FetchTimeout)
	}
	if c.Ingest.MaxBytes <= 0 {
		return fmt.Errorf("INGEST_MAX_BYTES must be positive, got %d", c.Ingest.MaxBytes)
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("INGEST_VARIANT_WORKERS must be positive, got %d", c.Ingest.Workers)
	}
	if _, err := uuid.FromString(c.App.AssetNamespace); err != nil {
		return fmt.Errorf("ASSET_NAMESPACE must be a valid UUID")
	}

	// c.Proxy.Trusted will default to true if not valid
	// c.Logger.Level will default to Info if not valid
	return nil
}
