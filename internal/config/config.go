package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig          `yaml:"app"`
	Postgres     PostgresConfig     `yaml:"postgres"`
	Redis        RedisConfig        `yaml:"redis"`
	Logger       LoggerConfig       `yaml:"logger"`
	Auth         AuthConfig         `yaml:"auth"`
	Notification NotificationConfig `yaml:"notification"`
	Upload       UploadConfig       `yaml:"upload"`
	Tickets      TicketsConfig      `yaml:"tickets"`
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string `yaml:"name"`
	Env                   string `yaml:"env"`
	Host                  string `yaml:"host"`
	Port                  string `yaml:"port"`
	Version               string `yaml:"version"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	Timezone              string `yaml:"timezone"`
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	MaxConns       int32  `yaml:"max_conns"`
	MinConns       int32  `yaml:"min_conns"`
	RunMigrations  bool   `yaml:"run_migrations"`
	MigrationsDir  string `yaml:"migrations_dir"`
	ConnMaxIdleSec int32  `yaml:"conn_max_idle_seconds"`
	ConnMaxLifeSec int32  `yaml:"conn_max_life_seconds"`
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr            string `yaml:"addr"`
	Password        string `yaml:"password"`
	DB              int    `yaml:"db"`
	TicketTTLSecond int    `yaml:"ticket_ttl_seconds"`
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string `yaml:"level"`
}

// AuthConfig defines staff token verification.
type AuthConfig struct {
	JWTSecret             string `yaml:"jwt_secret"`
	Required              bool   `yaml:"required"`
	AccessTokenTTLMinutes int    `yaml:"access_token_ttl_minutes"`
}

// NotificationConfig holds outbound notification endpoints.
type NotificationConfig struct {
	EmailFrom             string `yaml:"email_from"`
	WebhookURL            string `yaml:"webhook_url"`
	WebhookTimeoutSeconds int    `yaml:"webhook_timeout_seconds"`
}

// UploadConfig controls where attachments land and how large they may be.
type UploadConfig struct {
	Dir          string `yaml:"dir"`
	MaxBytes     int64  `yaml:"max_bytes"`
	PublicPrefix string `yaml:"public_prefix"`
}

// TicketsConfig tunes ticket intake.
type TicketsConfig struct {
	MaxAllocationAttempts int `yaml:"max_allocation_attempts"`
}

// Defaults returns the built-in configuration used when neither the config
// file nor the environment sets a value.
func Defaults() Config {
	return Config{
		App: AppConfig{
			Name:                  "rmf-intake",
			Env:                   "development",
			Host:                  "0.0.0.0",
			Port:                  "8080",
			Version:               "dev",
			RequestTimeoutSeconds: 30,
			Timezone:              "UTC",
		},
		Postgres: PostgresConfig{
			MaxConns:       10,
			MinConns:       2,
			RunMigrations:  true,
			MigrationsDir:  "migrations",
			ConnMaxIdleSec: 30,
			ConnMaxLifeSec: 300,
		},
		Redis: RedisConfig{
			TicketTTLSecond: 300,
		},
		Logger: LoggerConfig{Level: "info"},
		Auth: AuthConfig{
			AccessTokenTTLMinutes: 60,
		},
		Notification: NotificationConfig{
			EmailFrom:             "noreply@example.com",
			WebhookTimeoutSeconds: 5,
		},
		Upload: UploadConfig{
			Dir:          "uploads",
			MaxBytes:     5_000_000,
			PublicPrefix: "/uploads",
		},
		Tickets: TicketsConfig{MaxAllocationAttempts: 5},
	}
}

// Load reads configuration from the optional CONFIG_FILE and then from
// environment variables, which take precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if _, err := cfg.App.Location(); err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE: %w", err)
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", strconv.Itoa(cfg.Redis.DB)))
	if err != nil {
		return fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg.App.Name = getEnv("APP_NAME", cfg.App.Name)
	cfg.App.Env = getEnv("APP_ENV", cfg.App.Env)
	cfg.App.Host = getEnv("APP_HOST", cfg.App.Host)
	cfg.App.Port = getEnv("APP_PORT", cfg.App.Port)
	cfg.App.Version = getEnv("APP_VERSION", cfg.App.Version)
	cfg.App.RequestTimeoutSeconds = getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", cfg.App.RequestTimeoutSeconds)
	cfg.App.Timezone = getEnv("APP_TIMEZONE", cfg.App.Timezone)

	cfg.Postgres.DSN = getEnv("POSTGRES_DSN", cfg.Postgres.DSN)
	cfg.Postgres.MaxConns = int32(getEnvAsInt("POSTGRES_MAX_CONNS", int(cfg.Postgres.MaxConns)))
	cfg.Postgres.MinConns = int32(getEnvAsInt("POSTGRES_MIN_CONNS", int(cfg.Postgres.MinConns)))
	cfg.Postgres.RunMigrations = getEnvAsBool("POSTGRES_RUN_MIGRATIONS", cfg.Postgres.RunMigrations)
	cfg.Postgres.MigrationsDir = getEnv("POSTGRES_MIGRATIONS_DIR", cfg.Postgres.MigrationsDir)
	cfg.Postgres.ConnMaxIdleSec = int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", int(cfg.Postgres.ConnMaxIdleSec)))
	cfg.Postgres.ConnMaxLifeSec = int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", int(cfg.Postgres.ConnMaxLifeSec)))

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = redisDB
	cfg.Redis.TicketTTLSecond = getEnvAsInt("REDIS_TICKET_TTL_SECONDS", cfg.Redis.TicketTTLSecond)

	cfg.Logger.Level = getEnv("LOG_LEVEL", cfg.Logger.Level)

	cfg.Auth.JWTSecret = getEnv("AUTH_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.Required = getEnvAsBool("AUTH_REQUIRED", cfg.Auth.Required)
	cfg.Auth.AccessTokenTTLMinutes = getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", cfg.Auth.AccessTokenTTLMinutes)

	cfg.Notification.EmailFrom = getEnv("NOTIFY_EMAIL_FROM", cfg.Notification.EmailFrom)
	cfg.Notification.WebhookURL = getEnv("NOTIFY_WEBHOOK_URL", cfg.Notification.WebhookURL)
	cfg.Notification.WebhookTimeoutSeconds = getEnvAsInt("NOTIFY_WEBHOOK_TIMEOUT_SECONDS", cfg.Notification.WebhookTimeoutSeconds)

	cfg.Upload.Dir = getEnv("UPLOAD_DIR", cfg.Upload.Dir)
	cfg.Upload.MaxBytes = int64(getEnvAsInt("UPLOAD_MAX_BYTES", int(cfg.Upload.MaxBytes)))
	cfg.Upload.PublicPrefix = getEnv("UPLOAD_PUBLIC_PREFIX", cfg.Upload.PublicPrefix)

	cfg.Tickets.MaxAllocationAttempts = getEnvAsInt("TICKETS_MAX_ALLOCATION_ATTEMPTS", cfg.Tickets.MaxAllocationAttempts)
	return nil
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

// Location resolves the timezone used for allocation buckets and report
// periods.
func (a AppConfig) Location() (*time.Location, error) {
	if a.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(a.Timezone)
}

// TicketTTL returns how long cached ticket lookups live.
func (r RedisConfig) TicketTTL() time.Duration {
	if r.TicketTTLSecond <= 0 {
		return 0
	}
	return time.Duration(r.TicketTTLSecond) * time.Second
}

// WebhookTimeout returns the outbound webhook deadline.
func (n NotificationConfig) WebhookTimeout() time.Duration {
	if n.WebhookTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(n.WebhookTimeoutSeconds) * time.Second
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
