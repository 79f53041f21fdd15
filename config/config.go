package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Auth          AuthConfig
	Bridge        BridgeConfig
	RateLimit     RateLimitConfig
	Database      *DatabaseConfig // Optional: audit trail is disabled when nil
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// AuthConfig holds caller and backend authentication settings.
// MultiTenant is the process-wide tenancy switch; it is read once at startup.
type AuthConfig struct {
	MultiTenant       bool
	ValidationURL     string
	ValidationTimeout time.Duration
	RetryBackoff      time.Duration
	MaxRetries        int
	CacheTTL          time.Duration
	CacheMaxSize      int
	CacheCleanup      time.Duration

	// Service-to-service authentication for the validation call.
	// A signing secret takes precedence over a static token.
	ServiceHeader        string
	ServiceToken         string
	ServiceSigningSecret string
	ServiceIssuer        string

	// LoginURL is where callers obtain a credential; served unauthenticated.
	LoginURL string
}

// BridgeConfig holds backend connection settings
type BridgeConfig struct {
	CommandTimeout  time.Duration
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
}

// RateLimitConfig holds per-tenant caller rate limits. RPS <= 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// DatabaseConfig holds PostgreSQL database configuration for the audit trail.
type DatabaseConfig struct {
	ConnectionString string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	AuditBufferSize  int
	AuditWorkers     int
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:*"}),
		},
		Auth: AuthConfig{
			MultiTenant:          getEnvAsBool("AUTH_MULTI_TENANT", false),
			ValidationURL:        getEnv("AUTH_VALIDATION_URL", ""),
			ValidationTimeout:    getEnvAsDuration("AUTH_VALIDATION_TIMEOUT", 5*time.Second),
			RetryBackoff:         getEnvAsDuration("AUTH_RETRY_BACKOFF", 100*time.Millisecond),
			MaxRetries:           getEnvAsInt("AUTH_MAX_RETRIES", 1),
			CacheTTL:             getEnvAsDuration("AUTH_CACHE_TTL", 5*time.Minute),
			CacheMaxSize:         getEnvAsInt("AUTH_CACHE_MAX_SIZE", 10000),
			CacheCleanup:         getEnvAsDuration("AUTH_CACHE_CLEANUP_INTERVAL", time.Minute),
			ServiceHeader:        getEnv("AUTH_SERVICE_HEADER", "X-Service-Authorization"),
			ServiceToken:         getEnv("AUTH_SERVICE_TOKEN", ""),
			ServiceSigningSecret: getEnv("AUTH_SERVICE_SIGNING_SECRET", ""),
			ServiceIssuer:        getEnv("AUTH_SERVICE_ISSUER", "command-bridge"),
			LoginURL:             getEnv("AUTH_LOGIN_URL", ""),
		},
		Bridge: BridgeConfig{
			CommandTimeout:  getEnvAsDuration("BRIDGE_COMMAND_TIMEOUT", 30*time.Second),
			PingInterval:    getEnvAsDuration("BRIDGE_PING_INTERVAL", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("BRIDGE_WRITE_TIMEOUT", 5*time.Second),
			MaxMessageBytes: int64(getEnvAsInt("BRIDGE_MAX_MESSAGE_BYTES", 4<<20)),
		},
		RateLimit: RateLimitConfig{
			RPS:   getEnvAsFloat("RATE_LIMIT_RPS", 0),
			Burst: getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Database: loadDatabaseConfig(),
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}

	if c.Auth.MultiTenant {
		if c.Auth.ValidationURL == "" {
			return fmt.Errorf("AUTH_VALIDATION_URL is required when multi-tenant mode is enabled")
		}
		if _, err := url.ParseRequestURI(c.Auth.ValidationURL); err != nil {
			return fmt.Errorf("invalid AUTH_VALIDATION_URL: %w", err)
		}
	}
	if c.Auth.ValidationTimeout <= 0 {
		return fmt.Errorf("validation timeout must be positive")
	}
	if c.Auth.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.Auth.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}

	if c.Bridge.CommandTimeout <= 0 {
		return fmt.Errorf("command timeout must be positive")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogString returns a safe string for logging (no password).
func (c *DatabaseConfig) LogString() string {
	u, err := url.Parse(c.ConnectionString)
	if err != nil || u.Host == "" {
		return "host=<from DATABASE_URL>"
	}
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, strings.TrimPrefix(u.Path, "/"))
}

// loadDatabaseConfig returns nil when DATABASE_URL is not set.
func loadDatabaseConfig() *DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" {
		return nil
	}
	return &DatabaseConfig{
		ConnectionString: dbURL,
		MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
		ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		AuditBufferSize:  getEnvAsInt("AUDIT_BUFFER_SIZE", 1000),
		AuditWorkers:     getEnvAsInt("AUDIT_WORKERS", 2),
	}
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	for _, key := range []string{"PORT", "SERVER_PORT"} {
		if value := os.Getenv(key); value != "" {
			if p, err := strconv.Atoi(value); err == nil {
				return p
			}
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
