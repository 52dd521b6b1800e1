package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jtbnz/razor-library-sub001/pkg/observability"
	"github.com/jtbnz/razor-library-sub001/pkg/ratelimit"
	"github.com/jtbnz/razor-library-sub001/pkg/storage"
	"github.com/jtbnz/razor-library-sub001/pkg/subscription"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       storage.Config
	RateLimits    RateLimitConfig
	Subscription  SubscriptionConfig
	Images        ImagesConfig
	Billing       BillingConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for probes)
	HealthPort string

	// TrustProxyHeaders enables X-Forwarded-For/X-Real-IP for client
	// identification. Only safe behind a trusted reverse proxy; a directly
	// exposed listener must leave this off or clients can spoof their
	// address out of the login rate limit.
	TrustProxyHeaders bool
}

// RateLimitConfig holds attempt limiting policies and backend selection
type RateLimitConfig struct {
	// Backend is "postgres", "redis", or "memory"
	Backend string

	Login         ratelimit.Policy
	PasswordReset ratelimit.Policy
}

// SubscriptionConfig holds trial and gate settings
type SubscriptionConfig struct {
	TrialLengthDays int
	GateCacheTTL    time.Duration
}

// ImagesConfig holds upload pipeline settings
type ImagesConfig struct {
	// ResizerEndpoint is the external derivative service. Empty disables
	// derivative generation.
	ResizerEndpoint string
}

// BillingConfig holds webhook verification settings
type BillingConfig struct {
	WebhookSecret string
}

// ObservabilityConfig holds logging and metrics settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		RateLimits:    loadRateLimitConfig(),
		Subscription:  loadSubscriptionConfig(),
		Images:        loadImagesConfig(),
		Billing:       loadBillingConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("RAZORLIB_HOST", "0.0.0.0"),
		Port:            getEnv("RAZORLIB_PORT", "8080"),
		ReadTimeout:     getEnvDuration("RAZORLIB_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("RAZORLIB_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("RAZORLIB_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("RAZORLIB_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("RAZORLIB_HEALTH_PORT", "9090"),

		TrustProxyHeaders: getEnvBool("RAZORLIB_TRUST_PROXY_HEADERS", true),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	cfg.PostgresURL = getEnv("RAZORLIB_POSTGRES_URL", "")
	if maxConns := getEnvInt("RAZORLIB_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if idleConns := getEnvInt("RAZORLIB_POSTGRES_IDLE_CONNS", 0); idleConns > 0 {
		cfg.PostgresIdleConns = idleConns
	}
	if timeout := getEnvDuration("RAZORLIB_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	cfg.RedisURL = getEnv("RAZORLIB_REDIS_URL", "")
	cfg.RedisPassword = getEnv("RAZORLIB_REDIS_PASSWORD", "")
	if redisDB := getEnvInt("RAZORLIB_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if poolSize := getEnvInt("RAZORLIB_REDIS_POOL_SIZE", 0); poolSize > 0 {
		cfg.RedisPoolSize = poolSize
	}

	if backend := getEnv("RAZORLIB_BLOB_BACKEND", ""); backend != "" {
		cfg.BlobBackend = backend
	}
	if fsRoot := getEnv("RAZORLIB_FILESYSTEM_ROOT", ""); fsRoot != "" {
		cfg.FilesystemRoot = fsRoot
	}
	cfg.S3Endpoint = getEnv("RAZORLIB_S3_ENDPOINT", "")
	if region := getEnv("RAZORLIB_S3_REGION", ""); region != "" {
		cfg.S3Region = region
	}
	cfg.S3Bucket = getEnv("RAZORLIB_S3_BUCKET", "")
	cfg.S3AccessKey = getEnv("RAZORLIB_S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnv("RAZORLIB_S3_SECRET_KEY", "")
	cfg.S3UsePathStyle = getEnvBool("RAZORLIB_S3_USE_PATH_STYLE", false)

	return cfg
}

func loadRateLimitConfig() RateLimitConfig {
	login := ratelimit.DefaultLoginPolicy()
	if limit := getEnvInt("RAZORLIB_LOGIN_ATTEMPT_LIMIT", 0); limit > 0 {
		login.Limit = limit
	}
	if window := getEnvDuration("RAZORLIB_LOGIN_ATTEMPT_WINDOW", 0); window > 0 {
		login.Window = window
	}

	reset := ratelimit.DefaultPasswordResetPolicy()
	if limit := getEnvInt("RAZORLIB_RESET_ATTEMPT_LIMIT", 0); limit > 0 {
		reset.Limit = limit
	}
	if window := getEnvDuration("RAZORLIB_RESET_ATTEMPT_WINDOW", 0); window > 0 {
		reset.Window = window
	}

	return RateLimitConfig{
		Backend:       getEnv("RAZORLIB_RATELIMIT_BACKEND", "postgres"),
		Login:         login,
		PasswordReset: reset,
	}
}

func loadSubscriptionConfig() SubscriptionConfig {
	return SubscriptionConfig{
		TrialLengthDays: getEnvInt("RAZORLIB_TRIAL_LENGTH_DAYS", subscription.DefaultTrialLengthDays),
		GateCacheTTL:    getEnvDuration("RAZORLIB_GATE_CACHE_TTL", time.Minute),
	}
}

func loadImagesConfig() ImagesConfig {
	return ImagesConfig{
		ResizerEndpoint: getEnv("RAZORLIB_RESIZER_ENDPOINT", ""),
	}
}

func loadBillingConfig() BillingConfig {
	return BillingConfig{
		WebhookSecret: getEnv("RAZORLIB_BILLING_WEBHOOK_SECRET", ""),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       parseLogLevel(getEnv("RAZORLIB_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("RAZORLIB_METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	switch c.RateLimits.Backend {
	case "postgres", "memory":
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis rate limit backend")
		}
	default:
		return fmt.Errorf("invalid rate limit backend: %s (must be postgres, redis, or memory)", c.RateLimits.Backend)
	}
	if c.RateLimits.Login.Limit <= 0 || c.RateLimits.PasswordReset.Limit <= 0 {
		return fmt.Errorf("attempt limits must be positive")
	}

	switch c.Storage.BlobBackend {
	case "filesystem":
		if c.Storage.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem blob storage")
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 blob storage")
		}
	default:
		return fmt.Errorf("invalid blob backend: %s (must be filesystem or s3)", c.Storage.BlobBackend)
	}

	if c.Subscription.TrialLengthDays <= 0 {
		return fmt.Errorf("trial length must be positive")
	}

	return nil
}

func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if dur, err := time.ParseDuration(value); err == nil {
			return dur
		}
	}
	return defaultValue
}
