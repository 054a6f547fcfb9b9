package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Store backends
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// ConfigFileEnv names the environment variable pointing at an optional TOML file
const ConfigFileEnv = "GATEKEEPER_CONFIG"

type Config struct {
	Database DatabaseConfig `toml:"database"`
	SQLite   SQLiteConfig   `toml:"sqlite"`
	Redis    RedisConfig    `toml:"redis"`
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Lockout  LockoutConfig  `toml:"lockout"`
}

type DatabaseConfig struct {
	URL               string        `toml:"url" env:"DATABASE_URL"`
	Host              string        `toml:"host" env:"DB_HOST"`
	Port              int           `toml:"port" env:"DB_PORT"`
	User              string        `toml:"user" env:"DB_USER"`
	Password          string        `toml:"password" env:"DB_PASSWORD"`
	Name              string        `toml:"name" env:"DB_NAME"`
	SSLMode           string        `toml:"sslmode" env:"DB_SSLMODE"`
	MaxConns          int32         `toml:"max_conns" env:"DB_MAX_CONNS"`
	MinConns          int32         `toml:"min_conns" env:"DB_MIN_CONNS"`
	MaxConnLifetime   time.Duration `toml:"max_conn_lifetime" env:"DB_MAX_CONN_LIFETIME"`
	MaxConnIdleTime   time.Duration `toml:"max_conn_idle_time" env:"DB_MAX_CONN_IDLE_TIME"`
	HealthCheckPeriod time.Duration `toml:"health_check_period" env:"DB_HEALTH_CHECK_PERIOD"`
}

type SQLiteConfig struct {
	Path        string        `toml:"path" env:"SQLITE_PATH"`
	BusyTimeout time.Duration `toml:"busy_timeout" env:"SQLITE_BUSY_TIMEOUT"`
}

type RedisConfig struct {
	Addr      string `toml:"addr" env:"REDIS_ADDR"`
	Username  string `toml:"username" env:"REDIS_USERNAME"`
	Password  string `toml:"password" env:"REDIS_PASSWORD"`
	DB        int    `toml:"db" env:"REDIS_DB"`
	KeyPrefix string `toml:"key_prefix" env:"REDIS_KEY_PREFIX"`
}

type ServerConfig struct {
	Port              string        `toml:"port" env:"PORT"`
	Env               string        `toml:"env" env:"ENV"`
	LogLevel          string        `toml:"log_level" env:"LOG_LEVEL"`
	TrustedProxies    []string      `toml:"trusted_proxies" env:"TRUSTED_PROXIES" envSeparator:","`
	RequestsPerMinute int           `toml:"requests_per_minute" env:"API_REQUESTS_PER_MINUTE"`
	ReadTimeout       time.Duration `toml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout      time.Duration `toml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `toml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT"`
}

type AuthConfig struct {
	AdminJWTSecret   string        `toml:"admin_jwt_secret" env:"ADMIN_JWT_SECRET"`
	AdminTokenExpiry time.Duration `toml:"admin_token_expiry" env:"ADMIN_TOKEN_EXPIRY"`
}

// LockoutConfig is the externally supplied lockout policy
type LockoutConfig struct {
	Backend          string            `toml:"backend" env:"LOCKOUT_BACKEND"`
	FailureLimit     int               `toml:"failure_limit" env:"LOCKOUT_FAILURE_LIMIT"`
	CoolOff          CoolOff           `toml:"cooloff" env:"LOCKOUT_COOLOFF"`
	Window           models.WindowMode `toml:"window" env:"LOCKOUT_WINDOW"`
	ResetOnSuccess   bool              `toml:"reset_on_success" env:"LOCKOUT_RESET_ON_SUCCESS"`
	KeyPolicy        string            `toml:"key_policy" env:"LOCKOUT_KEY_POLICY"`
	UseUserAgent     bool              `toml:"use_user_agent" env:"LOCKOUT_USE_USER_AGENT"`
	UsernameField    string            `toml:"username_field" env:"LOCKOUT_USERNAME_FIELD"`
	PasswordField    string            `toml:"password_field" env:"LOCKOUT_PASSWORD_FIELD"`
	CoolOffMessage   string            `toml:"cooloff_message" env:"LOCKOUT_COOLOFF_MESSAGE"`
	PermalockMessage string            `toml:"permalock_message" env:"LOCKOUT_PERMALOCK_MESSAGE"`
	FailOpen         bool              `toml:"fail_open" env:"LOCKOUT_FAIL_OPEN"`
	StoreTimeout     time.Duration     `toml:"store_timeout" env:"LOCKOUT_STORE_TIMEOUT"`
	LogRetention     time.Duration     `toml:"log_retention" env:"LOCKOUT_LOG_RETENTION"`
	CleanupInterval  time.Duration     `toml:"cleanup_interval" env:"LOCKOUT_CLEANUP_INTERVAL"`
}

// CoolOff is a lockout cool-off period. Zero means lockouts are permanent.
// It accepts Go durations ("90m"), whole hours ("2"), or "permanent"/"none".
type CoolOff time.Duration

// Duration returns the cool-off as a time.Duration
func (c CoolOff) Duration() time.Duration {
	return time.Duration(c)
}

// UnmarshalText implements encoding.TextUnmarshaler
func (c *CoolOff) UnmarshalText(text []byte) error {
	d, err := ParseCoolOff(string(text))
	if err != nil {
		return err
	}
	*c = CoolOff(d)
	return nil
}

// ParseCoolOff parses the cool-off notation
func ParseCoolOff(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "", "none", "permanent", "0":
		return 0, nil
	}

	if hours, err := strconv.Atoi(s); err == nil {
		if hours < 0 {
			return 0, fmt.Errorf("cool-off must not be negative: %q", s)
		}
		return time.Duration(hours) * time.Hour, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid cool-off %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("cool-off must not be negative: %q", s)
	}
	return d, nil
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:              "localhost",
			Port:              5432,
			User:              "postgres",
			Name:              "gatekeeper",
			SSLMode:           "disable",
			MaxConns:          25,
			MinConns:          5,
			MaxConnLifetime:   5 * time.Minute,
			MaxConnIdleTime:   1 * time.Minute,
			HealthCheckPeriod: 1 * time.Minute,
		},
		SQLite: SQLiteConfig{
			Path:        "gatekeeper.db",
			BusyTimeout: 5 * time.Second,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "gatekeeper:",
		},
		Server: ServerConfig{
			Port:              "8080",
			Env:               "development",
			LogLevel:          "info",
			RequestsPerMinute: 600,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Auth: AuthConfig{
			AdminTokenExpiry: 15 * time.Minute,
		},
		Lockout: LockoutConfig{
			Backend:          BackendPostgres,
			FailureLimit:     3,
			Window:           models.WindowSliding,
			KeyPolicy:        "ip",
			UsernameField:    "username",
			PasswordField:    "password",
			CoolOffMessage:   "Account locked: too many login attempts. Please try again later.",
			PermalockMessage: "Account locked: too many login attempts. Contact an admin to unlock your account.",
			FailOpen:         true,
			StoreTimeout:     2 * time.Second,
			CleanupInterval:  1 * time.Hour,
		},
	}
}

// Load builds the configuration from defaults, the optional TOML file named by
// GATEKEEPER_CONFIG, a .env file and the environment, in increasing precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", models.ErrConfiguration, path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings the lockout engine cannot run with
func (c *Config) Validate() error {
	var errs []error

	l := c.Lockout
	if l.FailureLimit < 1 {
		errs = append(errs, fmt.Errorf("LOCKOUT_FAILURE_LIMIT must be at least 1 (got %d)", l.FailureLimit))
	}
	if l.CoolOff < 0 {
		errs = append(errs, errors.New("LOCKOUT_COOLOFF must not be negative"))
	}
	if !l.Window.Valid() {
		errs = append(errs, fmt.Errorf("LOCKOUT_WINDOW must be sliding or fixed (got %q)", l.Window))
	}
	switch l.KeyPolicy {
	case "ip", "username", "username_and_ip":
	default:
		errs = append(errs, fmt.Errorf("LOCKOUT_KEY_POLICY must be ip, username or username_and_ip (got %q)", l.KeyPolicy))
	}
	if l.LogRetention < 0 {
		errs = append(errs, errors.New("LOCKOUT_LOG_RETENTION must not be negative"))
	} else if l.LogRetention > 0 && (l.CoolOff <= 0 || l.LogRetention < l.CoolOff.Duration()) {
		errs = append(errs, errors.New("LOCKOUT_LOG_RETENTION must be at least the cool-off and cannot be set with a permanent cool-off"))
	}
	if l.StoreTimeout <= 0 {
		errs = append(errs, errors.New("LOCKOUT_STORE_TIMEOUT must be positive"))
	}

	switch l.Backend {
	case BackendPostgres:
		if c.Database.URL == "" && c.Database.Password == "" {
			errs = append(errs, errors.New("DATABASE_URL or DB_PASSWORD is required for the postgres backend"))
		}
	case BackendSQLite:
		if c.SQLite.Path == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite backend"))
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis backend"))
		}
	case BackendMemory:
		// Process-local counters cannot be shared between instances
		if c.Server.Env == "production" {
			errs = append(errs, errors.New("the memory backend is not shared between processes and cannot be used in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("LOCKOUT_BACKEND must be postgres, sqlite, redis or memory (got %q)", l.Backend))
	}

	if c.Auth.AdminJWTSecret != "" {
		if err := validateJWTSecret(c.Auth.AdminJWTSecret, c.Server.Env); err != nil {
			errs = append(errs, err)
		}
	} else if c.Server.Env == "production" {
		// Without a token manager the attempt routes accept anonymous callers
		errs = append(errs, errors.New("ADMIN_JWT_SECRET is required in production"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", models.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

// validateJWTSecret enforces minimum security standards for the admin token secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32 // 256 bits
	}

	if len(secret) < minLength {
		return fmt.Errorf("ADMIN_JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return errors.New("ADMIN_JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

// DSN returns the libpq connection string
func (c *DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Policy returns the cool-off policy derived from the lockout settings
func (l LockoutConfig) Policy() models.CoolOffPolicy {
	return models.CoolOffPolicy{
		Duration:       l.CoolOff.Duration(),
		ResetOnSuccess: l.ResetOnSuccess,
		Window:         l.Window,
	}
}
