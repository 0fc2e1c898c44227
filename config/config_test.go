package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name: "default configuration",
			envVars: map[string]string{
				"ENVIRONMENT": "development",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "development", cfg.Environment)
				assert.Equal(t, "0.0.0.0", cfg.Server.Host)
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.False(t, cfg.Server.TLS.Enabled)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, "postgres", cfg.Database.DriverName())
				assert.True(t, cfg.Database.AutoMigrate)
				assert.Empty(t, cfg.Redis.URL)
				assert.Equal(t, "http://localhost:8000", cfg.Engine.BaseURL)
				assert.Equal(t, time.Duration(0), cfg.Engine.HandleReuseTTL)
				assert.Equal(t, 60*time.Second, cfg.Engine.UploadTimeout)
				assert.Equal(t, 120*time.Second, cfg.Engine.ComputeTimeout)
				assert.Greater(t, cfg.Server.WriteTimeout, cfg.RunBudget())
				assert.Equal(t, 10*time.Minute, cfg.Orchestrator.StaleAfter)
			},
		},
		{
			name: "engine and run settings",
			envVars: map[string]string{
				"ENGINE_BASE_URL":         "https://engine.internal/api/",
				"ENGINE_API_KEY":          "secret",
				"ENGINE_COMPUTE_TIMEOUT":  "45s",
				"ENGINE_HANDLE_REUSE_TTL": "1h",
				"ENGINE_RATE_LIMIT":       "2.5",
				"RUN_LEASE_TTL":           "90s",
				"RUN_EVENT_WORKERS":       "4",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "https://engine.internal/api", cfg.Engine.BaseURL)
				assert.Equal(t, "secret", cfg.Engine.APIKey)
				assert.Equal(t, 45*time.Second, cfg.Engine.ComputeTimeout)
				assert.Equal(t, time.Hour, cfg.Engine.HandleReuseTTL)
				assert.Equal(t, 2.5, cfg.Engine.RateLimit)
				assert.Equal(t, 90*time.Second, cfg.Orchestrator.LeaseTTL)
				assert.Equal(t, 4, cfg.Orchestrator.EventWorkers)
			},
		},
		{
			name: "database url and pgx driver",
			envVars: map[string]string{
				"DATABASE_URL":    "postgres://u:p@db.example.com:6432/fair?sslmode=require",
				"DB_DRIVER":       "pgx",
				"DB_AUTO_MIGRATE": "false",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "pgx", cfg.Database.DriverName())
				assert.False(t, cfg.Database.AutoMigrate)
				assert.Equal(t, "postgres://u:p@db.example.com:6432/fair?sslmode=require", cfg.Database.DSN())
				assert.Equal(t, "host=db.example.com port=6432 database=fair", cfg.Database.LogString())
			},
		},
		{
			name: "redis and cors",
			envVars: map[string]string{
				"REDIS_URL":            "redis://localhost:6379/0",
				"CORS_ALLOWED_ORIGINS": "https://a.example, ,https://b.example",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
				assert.Equal(t, "fairness:", cfg.Redis.KeyPrefix)
				assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
			},
		},
		{
			name: "PORT env var takes precedence over SERVER_PORT",
			envVars: map[string]string{
				"PORT":        "9443",
				"SERVER_PORT": "9000",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9443, cfg.Server.Port)
			},
		},
		{
			name: "production with jwt secret",
			envVars: map[string]string{
				"ENVIRONMENT": "production",
				"JWT_SECRET":  "s3cr3t",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.IsProduction())
				assert.Equal(t, "s3cr3t", cfg.Auth.JWTSecret)
			},
		},
		{
			name: "production without jwt secret",
			envVars: map[string]string{
				"ENVIRONMENT": "production",
			},
			wantErr: true,
		},
		{
			name: "relative engine url",
			envVars: map[string]string{
				"ENGINE_BASE_URL": "engine:8000",
			},
			wantErr: true,
		},
		{
			name: "write timeout shorter than the engine timeouts",
			envVars: map[string]string{
				"SERVER_WRITE_TIMEOUT": "90s",
			},
			wantErr: true,
		},
		{
			name: "unsupported driver",
			envVars: map[string]string{
				"DB_DRIVER": "sqlite",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear environment
			os.Clearenv()

			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg, err := New(context.Background())

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func validConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			WriteTimeout: 5 * time.Second,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			User:     "user",
			Database: "db",
		},
		Engine: EngineConfig{
			BaseURL:         "http://engine:8000",
			UploadTimeout:   time.Second,
			ComputeTimeout:  time.Second,
			MaxDatasetBytes: 1024,
		},
		Orchestrator: OrchestratorConfig{
			LeaseTTL:   time.Minute,
			StaleAfter: time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid development config",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing database host",
			mutate:  func(c *Config) { c.Database.Host = "" },
			wantErr: true,
			errMsg:  "database configuration required",
		},
		{
			name:    "missing database user",
			mutate:  func(c *Config) { c.Database.User = "" },
			wantErr: true,
			errMsg:  "database user is required",
		},
		{
			name:    "non positive compute timeout",
			mutate:  func(c *Config) { c.Engine.ComputeTimeout = 0 },
			wantErr: true,
			errMsg:  "engine timeouts must be positive",
		},
		{
			name:    "engine url without scheme",
			mutate:  func(c *Config) { c.Engine.BaseURL = "ftp://engine" },
			wantErr: true,
			errMsg:  "absolute http(s) URL",
		},
		{
			name:    "negative handle reuse",
			mutate:  func(c *Config) { c.Engine.HandleReuseTTL = -time.Second },
			wantErr: true,
			errMsg:  "handle reuse TTL",
		},
		{
			name:    "write timeout equal to the run budget",
			mutate:  func(c *Config) { c.Server.WriteTimeout = 2 * time.Second },
			wantErr: true,
			errMsg:  "must exceed the engine upload plus compute timeouts",
		},
		{
			name:    "unset write timeout",
			mutate:  func(c *Config) { c.Server.WriteTimeout = 0 },
			wantErr: true,
			errMsg:  "server write timeout",
		},
		{
			name:    "zero lease ttl",
			mutate:  func(c *Config) { c.Orchestrator.LeaseTTL = 0 },
			wantErr: true,
			errMsg:  "run lease TTL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_IsProduction(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		want        bool
	}{
		{"production", "production", true},
		{"prod", "prod", true},
		{"development", "development", false},
		{"staging", "staging", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Environment: tt.environment}
			assert.Equal(t, tt.want, cfg.IsProduction())
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "testuser",
		Password: "testpass",
		Database: "testdb",
		SSLMode:  "disable",
	}

	expected := "host=localhost port=5432 user=testuser password=testpass dbname=testdb sslmode=disable"
	assert.Equal(t, expected, cfg.DSN())
	assert.Equal(t, "host=localhost port=5432 database=testdb", cfg.LogString())
	assert.Equal(t, "postgres", cfg.DriverName())
}

func TestServerConfig_Address(t *testing.T) {
	cfg := ServerConfig{
		Host: "0.0.0.0",
		Port: 8080,
	}

	assert.Equal(t, "0.0.0.0:8080", cfg.Address())
}

func TestGetEnvHelpers(t *testing.T) {
	os.Clearenv()
	os.Setenv("TEST_INT", "42")
	os.Setenv("TEST_BAD_INT", "x")
	os.Setenv("TEST_BOOL", "true")
	os.Setenv("TEST_DURATION", "250ms")
	os.Setenv("TEST_LIST", "a,b")

	assert.Equal(t, 42, getEnvAsInt("TEST_INT", 1))
	assert.Equal(t, 1, getEnvAsInt("TEST_BAD_INT", 1))
	assert.True(t, getEnvAsBool("TEST_BOOL", false))
	assert.Equal(t, 250*time.Millisecond, getEnvAsDuration("TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, getEnvAsDuration("TEST_MISSING", time.Second))
	assert.Equal(t, []string{"a", "b"}, getEnvAsList("TEST_LIST", nil))
	assert.Equal(t, []string{"d"}, getEnvAsList("TEST_MISSING", []string{"d"}))
}
