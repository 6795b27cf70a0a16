package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Ledger       LedgerConfig
	Cache        CacheConfig
	RateLimit    RateLimitConfig
	Profile      ProfileConfig
	Expiry       ExpiryConfig
	Notification NotificationConfig
	Seed         SeedConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
	ConnectRetries int
	AppName        string
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level    string
	Encoding string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
}

// LedgerConfig controls the verification ledger client and its circuit breaker.
type LedgerConfig struct {
	URL                  string
	APIKey               string
	CallTimeoutMs        int
	MaxRetries           int
	RetryBaseMs          int
	FailureThreshold     int
	FailureWindowSeconds int
	OpenTimeoutSeconds   int
}

// CacheConfig bounds cached consent reads.
type CacheConfig struct {
	TTLSeconds int
}

// RateLimitConfig configures the per-client request limiter.
type RateLimitConfig struct {
	Max           int
	WindowSeconds int
}

// ProfileConfig holds the profile field encryption key.
type ProfileConfig struct {
	EncryptionKeyHex string
}

// ExpiryConfig drives the consent expiry sweep.
type ExpiryConfig struct {
	IntervalSeconds int
	Batch           int
	Concurrency     int
}

// NotificationConfig holds outbound webhook settings.
type NotificationConfig struct {
	WebhookTimeoutMs int
}

// SeedConfig points at the YAML seed fixtures.
type SeedConfig struct {
	File string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "consent-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
			ConnectRetries: getEnvAsInt("POSTGRES_CONNECT_RETRIES", 5),
			AppName:        getEnv("APP_NAME", "consent-service"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Encoding: getEnv("LOG_ENCODING", "json"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Ledger: LedgerConfig{
			URL:                  os.Getenv("LEDGER_URL"),
			APIKey:               os.Getenv("LEDGER_API_KEY"),
			CallTimeoutMs:        getEnvAsInt("LEDGER_CALL_TIMEOUT_MS", 2000),
			MaxRetries:           getEnvAsInt("LEDGER_MAX_RETRIES", 2),
			RetryBaseMs:          getEnvAsInt("LEDGER_RETRY_BASE_MS", 100),
			FailureThreshold:     getEnvAsInt("LEDGER_FAILURE_THRESHOLD", 5),
			FailureWindowSeconds: getEnvAsInt("LEDGER_FAILURE_WINDOW_SECONDS", 60),
			OpenTimeoutSeconds:   getEnvAsInt("LEDGER_OPEN_TIMEOUT_SECONDS", 30),
		},
		Cache: CacheConfig{
			TTLSeconds: getEnvAsInt("CACHE_TTL_SECONDS", 60),
		},
		RateLimit: RateLimitConfig{
			Max:           getEnvAsInt("RATE_LIMIT_MAX", 100),
			WindowSeconds: getEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		},
		Profile: ProfileConfig{
			EncryptionKeyHex: os.Getenv("PROFILE_ENCRYPTION_KEY"),
		},
		Expiry: ExpiryConfig{
			IntervalSeconds: getEnvAsInt("EXPIRY_SWEEP_INTERVAL_SECONDS", 300),
			Batch:           getEnvAsInt("EXPIRY_SWEEP_BATCH", 100),
			Concurrency:     getEnvAsInt("EXPIRY_SWEEP_CONCURRENCY", 4),
		},
		Notification: NotificationConfig{
			WebhookTimeoutMs: getEnvAsInt("NOTIFY_WEBHOOK_TIMEOUT_MS", 3000),
		},
		Seed: SeedConfig{
			File: getEnv("SEED_FILE", "seeds/seed.yaml"),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// CallTimeout bounds a single ledger attempt.
func (l LedgerConfig) CallTimeout() time.Duration {
	return millis(l.CallTimeoutMs, 2*time.Second)
}

// RetryBase is the first backoff step between ledger attempts.
func (l LedgerConfig) RetryBase() time.Duration {
	return millis(l.RetryBaseMs, 100*time.Millisecond)
}

// FailureWindow is the rolling window after which closed-state failure counts reset.
func (l LedgerConfig) FailureWindow() time.Duration {
	return seconds(l.FailureWindowSeconds, time.Minute)
}

// OpenTimeout is how long the breaker stays open before allowing a trial call.
func (l LedgerConfig) OpenTimeout() time.Duration {
	return seconds(l.OpenTimeoutSeconds, 30*time.Second)
}

// TTL returns the maximum staleness of cached consent reads.
func (c CacheConfig) TTL() time.Duration {
	return seconds(c.TTLSeconds, time.Minute)
}

// Window returns the limiter window.
func (r RateLimitConfig) Window() time.Duration {
	return seconds(r.WindowSeconds, time.Minute)
}

// Interval returns the pause between expiry sweeps.
func (e ExpiryConfig) Interval() time.Duration {
	return seconds(e.IntervalSeconds, 5*time.Minute)
}

// WebhookTimeout bounds a single webhook delivery.
func (n NotificationConfig) WebhookTimeout() time.Duration {
	return millis(n.WebhookTimeoutMs, 3*time.Second)
}

// EncryptionKey decodes the hex profile key. An empty key yields nil.
func (p ProfileConfig) EncryptionKey() ([]byte, error) {
	if p.EncryptionKeyHex == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(p.EncryptionKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid PROFILE_ENCRYPTION_KEY: %w", err)
	}
	return key, nil
}

func millis(v int, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return time.Duration(v) * time.Millisecond
}

func seconds(v int, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return time.Duration(v) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
