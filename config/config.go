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
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	Engine        EngineConfig
	Storage       StorageConfig
	Orchestrator  OrchestratorConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	Driver           string // postgres (lib/pq) or pgx
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	AutoMigrate      bool
}

// RedisConfig holds the optional Redis connection used by the run guard.
// An empty URL selects the in-process guard.
type RedisConfig struct {
	URL       string
	KeyPrefix string
}

// AuthConfig holds bearer token verification settings
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
}

// EngineConfig holds the analytics engine client configuration
type EngineConfig struct {
	BaseURL            string
	APIKey             string
	UploadTimeout      time.Duration
	ComputeTimeout     time.Duration
	BreakerMaxFailures uint32        // consecutive failures before the breaker opens
	BreakerOpenTimeout time.Duration // time spent open before a half-open trial request
	RateLimit          float64       // requests per second, 0 disables limiting
	RateBurst          int
	HandleReuseTTL     time.Duration // 0 always re-uploads
	MaxDatasetBytes    int64
}

// StorageConfig holds the dataset object store configuration
type StorageConfig struct {
	Root string
}

// OrchestratorConfig holds run coordination settings
type OrchestratorConfig struct {
	LeaseTTL         time.Duration
	StaleAfter       time.Duration
	EventWorkers     int
	EventBuffer      int
	TerminalTimeout  time.Duration
	EventStopTimeout time.Duration
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 4*time.Minute),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
			CORSOrigins:     getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database: loadDatabaseConfig(),
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", ""),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "fairness:"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			Issuer:    getEnv("JWT_ISSUER", ""),
			Audience:  getEnv("JWT_AUDIENCE", ""),
		},
		Engine: EngineConfig{
			BaseURL:            strings.TrimRight(getEnv("ENGINE_BASE_URL", "http://localhost:8000"), "/"),
			APIKey:             getEnv("ENGINE_API_KEY", ""),
			UploadTimeout:      getEnvAsDuration("ENGINE_UPLOAD_TIMEOUT", 60*time.Second),
			ComputeTimeout:     getEnvAsDuration("ENGINE_COMPUTE_TIMEOUT", 120*time.Second),
			BreakerMaxFailures: uint32(getEnvAsInt("ENGINE_BREAKER_MAX_FAILURES", 5)),
			BreakerOpenTimeout: getEnvAsDuration("ENGINE_BREAKER_OPEN_TIMEOUT", 30*time.Second),
			RateLimit:          getEnvAsFloat("ENGINE_RATE_LIMIT", 10),
			RateBurst:          getEnvAsInt("ENGINE_RATE_BURST", 5),
			HandleReuseTTL:     getEnvAsDuration("ENGINE_HANDLE_REUSE_TTL", 0),
			MaxDatasetBytes:    int64(getEnvAsInt("ENGINE_MAX_DATASET_BYTES", 100<<20)),
		},
		Storage: StorageConfig{
			Root: getEnv("STORAGE_ROOT", "data/datasets"),
		},
		Orchestrator: OrchestratorConfig{
			LeaseTTL:         getEnvAsDuration("RUN_LEASE_TTL", 5*time.Minute),
			StaleAfter:       getEnvAsDuration("RUN_STALE_AFTER", 10*time.Minute),
			EventWorkers:     getEnvAsInt("RUN_EVENT_WORKERS", 2),
			EventBuffer:      getEnvAsInt("RUN_EVENT_BUFFER", 256),
			TerminalTimeout:  getEnvAsDuration("RUN_TERMINAL_WRITE_TIMEOUT", 10*time.Second),
			EventStopTimeout: getEnvAsDuration("RUN_EVENT_STOP_TIMEOUT", 5*time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	// Database validation (DATABASE_URL or DB_* vars)
	if c.Database.ConnectionString == "" && c.Database.Host == "" {
		return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
	}
	if c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}
	switch c.Database.DriverName() {
	case "postgres", "pgx":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	// Engine validation
	u, err := url.Parse(c.Engine.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("engine base URL must be an absolute http(s) URL")
	}
	if c.Engine.UploadTimeout <= 0 || c.Engine.ComputeTimeout <= 0 {
		return fmt.Errorf("engine timeouts must be positive")
	}
	if c.Engine.MaxDatasetBytes <= 0 {
		return fmt.Errorf("engine max dataset bytes must be positive")
	}
	if c.Engine.HandleReuseTTL < 0 {
		return fmt.Errorf("engine handle reuse TTL cannot be negative")
	}

	// The write timeout also bounds each request, so a run must fit inside it
	if budget := c.RunBudget(); c.Server.WriteTimeout <= budget {
		return fmt.Errorf("server write timeout (%v) must exceed the engine upload plus compute timeouts (%v)",
			c.Server.WriteTimeout, budget)
	}

	// Run coordination validation
	if c.Orchestrator.LeaseTTL <= 0 {
		return fmt.Errorf("run lease TTL must be positive")
	}
	if c.Orchestrator.StaleAfter <= 0 {
		return fmt.Errorf("run stale-after must be positive")
	}

	// Auth validation (required in production)
	if c.IsProduction() && c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required in production")
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// RunBudget is the longest a computation run can wait on the engine
func (c *Config) RunBudget() time.Duration {
	return c.Engine.UploadTimeout + c.Engine.ComputeTimeout
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DriverName returns the database/sql driver name, defaulting to lib/pq
func (c *DatabaseConfig) DriverName() string {
	if c.Driver == "" {
		return "postgres"
	}
	return c.Driver
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	cfg := DatabaseConfig{
		Driver:          getEnv("DB_DRIVER", "postgres"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		AutoMigrate:     getEnvAsBool("DB_AUTO_MIGRATE", true),
	}
	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		cfg.ConnectionString = dbURL
		return cfg
	}
	cfg.Host = getEnv("DB_HOST", "localhost")
	cfg.Port = getEnvAsInt("DB_PORT", 5432)
	cfg.User = getEnv("DB_USER", "dev")
	cfg.Password = getEnv("DB_PASSWORD", "fairness_password")
	cfg.Database = getEnv("DB_NAME", "fairness")
	cfg.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
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

// getEnvAsList splits a comma separated value, dropping blanks
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
