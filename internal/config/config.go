package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Log         LogConfig         `mapstructure:"log"`
	Stream      StreamConfig      `mapstructure:"stream"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Email       EmailConfig       `mapstructure:"email"`
	Sheet       SheetConfig       `mapstructure:"sheet"`
	Security    SecurityConfig    `mapstructure:"security"`
	DeadLetter  DeadLetterConfig  `mapstructure:"dead_letter"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// DSN returns the PostgreSQL connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
// URL takes precedence over Host/Port when set.
type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StreamConfig holds the durable queue consumer configuration
type StreamConfig struct {
	Name         string        `mapstructure:"name"`
	Group        string        `mapstructure:"group"`
	Consumer     string        `mapstructure:"consumer"`
	MaxRetries   int           `mapstructure:"max_retries"`
	Block        time.Duration `mapstructure:"block"`
	BatchSize    int64         `mapstructure:"batch_size"`
	ErrorBackoff time.Duration `mapstructure:"error_backoff"`
	Disabled     bool          `mapstructure:"disabled"`
	// DeliveryTimeout bounds the processing of a single entry
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
}

// IdempotencyConfig selects and tunes the dedup store
type IdempotencyConfig struct {
	// Backend is "memory" (default) or "redis"
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// EmailConfig holds outbound provider configuration
type EmailConfig struct {
	// Provider is the email provider to use: "mailjet", "gmail" or "log"
	Provider    string `mapstructure:"provider"`
	DefaultFrom string `mapstructure:"default_from"`
	// RatePerSecond caps provider calls per second; 0 disables pacing
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	// SendTimeout bounds a single provider call
	SendTimeout time.Duration    `mapstructure:"send_timeout"`
	Mailjet     MailjetConfig    `mapstructure:"mailjet"`
	Gmail       GmailEmailConfig `mapstructure:"gmail"`
}

// MailjetConfig holds Mailjet API credentials
type MailjetConfig struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	// BaseURL overrides the API base, e.g. https://api.mailjet.com/v3
	BaseURL string `mapstructure:"base_url"`
}

// GmailEmailConfig holds Gmail API configuration
type GmailEmailConfig struct {
	// CredentialsJSON is the service account credentials JSON content
	CredentialsJSON string `mapstructure:"credentials_json"`
	// ClientID for OAuth2 token-based auth (alternative to service account)
	ClientID string `mapstructure:"client_id"`
	// ClientSecret for OAuth2 token-based auth
	ClientSecret string `mapstructure:"client_secret"`
	// RefreshToken for OAuth2 token-based auth
	RefreshToken string `mapstructure:"refresh_token"`
	// SenderName is the display name for the sender
	SenderName string `mapstructure:"sender_name"`
}

// SheetConfig holds spreadsheet ingestion configuration
type SheetConfig struct {
	// RemoteURLEnabled allows bulk sends from a hosted spreadsheet URL
	RemoteURLEnabled bool `mapstructure:"remote_url_enabled"`
	// URLAllowlist restricts remote hosts; empty allows any public host
	URLAllowlist   []string      `mapstructure:"url_allowlist"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	MaxBytes       int64         `mapstructure:"max_bytes"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	ServiceAuthToken string             `mapstructure:"service_auth_token"`
	RateLimiting     RateLimitingConfig `mapstructure:"rate_limiting"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	BulkLimit  int           `mapstructure:"bulk_limit"`
	BulkWindow time.Duration `mapstructure:"bulk_window"`
}

// DeadLetterConfig controls persistence of payloads that exhausted retries
type DeadLetterConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	// A .env file is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/mailstream")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("MAILSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Sheet.URLAllowlist = ParseAllowlist(cfg.Sheet.URLAllowlist)
	if cfg.Stream.Consumer == "" {
		cfg.Stream.Consumer = defaultConsumerName()
	}

	return &cfg, nil
}

// ParseAllowlist lowercases, trims and drops empty entries. Entries given as
// a single comma separated string (the usual env var form) are split.
func ParseAllowlist(entries []string) []string {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		for _, part := range strings.Split(entry, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "consumer-1"
	}
	return host
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5060)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "mailstream")
	v.SetDefault("database.user", "mailstream")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 10)

	// Redis defaults
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Stream defaults
	v.SetDefault("stream.name", "email_events")
	v.SetDefault("stream.group", "email_service_group")
	v.SetDefault("stream.consumer", "")
	v.SetDefault("stream.max_retries", 5)
	v.SetDefault("stream.block", "5s")
	v.SetDefault("stream.batch_size", 10)
	v.SetDefault("stream.error_backoff", "1s")
	v.SetDefault("stream.delivery_timeout", "1m")
	v.SetDefault("stream.disabled", false)

	// Idempotency defaults
	v.SetDefault("idempotency.backend", "memory")
	v.SetDefault("idempotency.ttl", "5m")

	// Email defaults
	v.SetDefault("email.provider", "mailjet")
	v.SetDefault("email.default_from", "")
	v.SetDefault("email.rate_per_second", 0)
	v.SetDefault("email.send_timeout", "30s")
	v.SetDefault("email.mailjet.base_url", "")
	v.SetDefault("email.gmail.sender_name", "")

	// Sheet defaults
	v.SetDefault("sheet.remote_url_enabled", false)
	v.SetDefault("sheet.url_allowlist", []string{})
	v.SetDefault("sheet.fetch_timeout", "10s")
	v.SetDefault("sheet.max_bytes", 5<<20)
	v.SetDefault("sheet.max_upload_bytes", 5<<20)

	// Security defaults
	v.SetDefault("security.service_auth_token", "")
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.bulk_limit", 20)
	v.SetDefault("security.rate_limiting.bulk_window", "1m")

	v.SetDefault("dead_letter.enabled", false)
}
