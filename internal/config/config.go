package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Config holds the application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Lockout  LockoutConfig  `yaml:"lockout"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Events   EventsConfig   `yaml:"events"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AppConfig holds app-specific configuration
type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host           string          `yaml:"host"`
	Port           int             `yaml:"port"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig bounds requests per client IP
type RateLimitConfig struct {
	Max        int `yaml:"max"`
	Expiration int `yaml:"expiration"` // seconds
}

// AuthConfig holds token and device configuration
type AuthConfig struct {
	KeysPath             string `yaml:"keys_path"`
	ActiveKID            string `yaml:"active_kid"`
	Issuer               string `yaml:"issuer"`
	AccessTTLMinutes     int    `yaml:"access_ttl_minutes"`
	RefreshTTLDays       int    `yaml:"refresh_ttl_days"`
	FingerprintSecret    string `yaml:"fingerprint_secret"`
	FingerprintIncludeIP bool   `yaml:"fingerprint_include_ip"`
}

// LockoutConfig holds failed-login lockout configuration
type LockoutConfig struct {
	Threshold       int `yaml:"threshold"`
	WindowMinutes   int `yaml:"window_minutes"`
	DurationMinutes int `yaml:"duration_minutes"`
}

// DatabaseConfig holds database-specific configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig holds the shared store configuration
type RedisConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// EventsConfig holds the audit event sink configuration.
// An empty AMQPURL keeps events in the log only.
type EventsConfig struct {
	AMQPURL  string `yaml:"amqp_url"`
	Exchange string `yaml:"exchange"`
}

// LoggingConfig holds logging-specific configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	cfg.applyEnvOverrides()

	return &cfg, nil
}

// ApplyDefaults fills every zero value that has a sensible default
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "tradeauth"
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = c.App.Name
	}
	if c.Auth.AccessTTLMinutes <= 0 {
		c.Auth.AccessTTLMinutes = 15
	}
	if c.Auth.RefreshTTLDays <= 0 {
		c.Auth.RefreshTTLDays = 7
	}
	if c.Lockout.Threshold <= 0 {
		c.Lockout.Threshold = 5
	}
	if c.Lockout.WindowMinutes <= 0 {
		c.Lockout.WindowMinutes = 15
	}
	if c.Lockout.DurationMinutes <= 0 {
		c.Lockout.DurationMinutes = 15
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "tradeauth:"
	}
	if c.Events.Exchange == "" {
		c.Events.Exchange = "auth.events"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// applyEnvOverrides lets secrets stay out of the YAML file
func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("FINGERPRINT_SECRET")); v != "" {
		c.Auth.FingerprintSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("AMQP_URL")); v != "" {
		c.Events.AMQPURL = v
	}
}

// AccessTTL returns the access token lifetime
func (a *AuthConfig) AccessTTL() time.Duration {
	return time.Duration(a.AccessTTLMinutes) * time.Minute
}

// RefreshTTL returns the refresh token lifetime
func (a *AuthConfig) RefreshTTL() time.Duration {
	return time.Duration(a.RefreshTTLDays) * 24 * time.Hour
}

// Window returns how long failures accumulate before the counter resets
func (l *LockoutConfig) Window() time.Duration {
	return time.Duration(l.WindowMinutes) * time.Minute
}

// Duration returns how long an identifier stays locked
func (l *LockoutConfig) Duration() time.Duration {
	return time.Duration(l.DurationMinutes) * time.Minute
}

// Address returns the server address in the format "host:port"
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Address returns the Redis address in the format "host:port"
func (r *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// quoteDSNValue quotes a DSN value if it contains spaces or characters outside
// the safe set. Single quotes inside the value are doubled.
func quoteDSNValue(value string) string {
	needsQuoting := value == ""
	for _, r := range value {
		safe := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '.' || r == '-' || r == '_' || r == '/' || r == '@' || r == ':'
		if !safe {
			needsQuoting = true
			break
		}
	}

	if !needsQuoting {
		return value
	}

	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// DSN returns the database connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		quoteDSNValue(d.Host),
		d.Port,
		quoteDSNValue(d.User),
		quoteDSNValue(d.Password),
		quoteDSNValue(d.DBName),
		quoteDSNValue(d.SSLMode),
	)
}
