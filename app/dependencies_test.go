package app

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Franck-F/fairness-sub000/auth"
	"github.com/Franck-F/fairness-sub000/config"
	"github.com/Franck-F/fairness-sub000/repositories/postgres"
	"github.com/Franck-F/fairness-sub000/services/runguard"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestNewDependencies(t *testing.T) {
	t.Run("successful initialization with all components", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		logger := zaptest.NewLogger(t)

		// Skip if database not available
		if !isDatabaseAvailable(t, cfg) {
			t.Skip("database not available")
		}

		deps, err := NewDependencies(ctx, cfg, logger)
		require.NoError(t, err)
		require.NotNil(t, deps)

		// Verify infrastructure
		assert.NotNil(t, deps.Config)
		assert.NotNil(t, deps.DB)
		assert.NotNil(t, deps.Registry)
		assert.NotNil(t, deps.Metrics)

		// Verify repositories
		assert.NotNil(t, deps.Repos.Audits)
		assert.NotNil(t, deps.Repos.Datasets)
		assert.NotNil(t, deps.Repos.RunEvents)

		// Verify pipeline
		assert.NotNil(t, deps.Engine)
		assert.NotNil(t, deps.Ingestion)
		assert.NotNil(t, deps.RunLog)
		assert.NotNil(t, deps.Orchestrator)
		assert.IsType(t, &runguard.MemoryGuard{}, deps.Guard)
		assert.NotNil(t, deps.AuthMiddleware)

		err = deps.Close(ctx)
		assert.NoError(t, err)
	})

	t.Run("database connection failure", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		cfg.Database.Host = "invalid-host-that-does-not-exist"
		logger := zaptest.NewLogger(t)

		deps, err := NewDependencies(ctx, cfg, logger)
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "failed to initialize database")
	})
}

func TestDependenciesClose(t *testing.T) {
	t.Run("graceful shutdown", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		logger := zaptest.NewLogger(t)

		if !isDatabaseAvailable(t, cfg) {
			t.Skip("database not available")
		}

		deps, err := NewDependencies(ctx, cfg, logger)
		require.NoError(t, err)
		require.NotNil(t, deps)

		assert.NoError(t, deps.Close(ctx))

		// Second close is a no-op
		assert.NoError(t, deps.Close(ctx))
	})

	t.Run("partially initialized dependencies", func(t *testing.T) {
		deps := &Dependencies{Logger: zap.NewNop()}
		assert.NoError(t, deps.Close(context.Background()))
	})
}

func TestInitRedis(t *testing.T) {
	t.Run("memory guard without redis url", func(t *testing.T) {
		cfg := testConfig(t)
		deps := &Dependencies{Config: cfg, Logger: zap.NewNop()}

		require.NoError(t, deps.initRedis(context.Background(), cfg))
		assert.Nil(t, deps.Redis)
		assert.IsType(t, &runguard.MemoryGuard{}, deps.Guard)
	})

	t.Run("invalid redis url", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Redis.URL = "not-a-url://"
		deps := &Dependencies{Config: cfg, Logger: zap.NewNop()}

		err := deps.initRedis(context.Background(), cfg)
		assert.Error(t, err)
		assert.Nil(t, deps.Redis)
	})

	t.Run("redis guard when reachable", func(t *testing.T) {
		addr := os.Getenv("REDIS_ADDR")
		if addr == "" {
			t.Skip("REDIS_ADDR not set")
		}
		cfg := testConfig(t)
		cfg.Redis.URL = "redis://" + addr + "/0"
		deps := &Dependencies{Config: cfg, Logger: zap.NewNop()}

		require.NoError(t, deps.initRedis(context.Background(), cfg))
		defer deps.Redis.Close()
		assert.IsType(t, &runguard.RedisGuard{}, deps.Guard)
	})
}

func TestInitAuth(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects everything without a secret", func(t *testing.T) {
		cfg := testConfig(t)
		deps := &Dependencies{Config: cfg, Logger: zap.NewNop()}
		deps.initAuth(cfg)

		require.NotNil(t, deps.AuthMiddleware)
		claims, err := (&rejectAllValidator{}).ValidateToken(ctx, "anything")
		assert.Error(t, err)
		assert.Nil(t, claims)
	})

	t.Run("adapter converts parsed claims", func(t *testing.T) {
		validator := auth.NewJWTValidator(auth.Config{Secret: "adapter-test-secret", Issuer: "fairness"})
		userID := uuid.New()
		token, err := validator.Issue(userID, "analyst@example.com", time.Hour)
		require.NoError(t, err)

		adapter := &jwtTokenValidatorAdapter{validator: validator}
		claims, err := adapter.ValidateToken(ctx, token)
		require.NoError(t, err)

		assert.Equal(t, userID.String(), claims.Sub)
		assert.Equal(t, "analyst@example.com", claims.Email)
		assert.Greater(t, claims.Exp, claims.Iat)
	})

	t.Run("adapter propagates validation errors", func(t *testing.T) {
		validator := auth.NewJWTValidator(auth.Config{Secret: "adapter-test-secret"})
		adapter := &jwtTokenValidatorAdapter{validator: validator}

		claims, err := adapter.ValidateToken(ctx, "garbage")
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
		assert.Nil(t, claims)
	})
}

func TestInitMetrics(t *testing.T) {
	deps := &Dependencies{Logger: zap.NewNop()}
	deps.initMetrics()

	require.NotNil(t, deps.Registry)
	require.NotNil(t, deps.Metrics)

	deps.Metrics.RunsTotal.WithLabelValues("completed").Inc()
	families, err := deps.Registry.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "fairness_audit_runs_total")
	assert.Contains(t, names, "go_goroutines")
}

// Test helpers

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:            "localhost",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: config.DatabaseConfig{
			Driver:          "postgres",
			Host:            getEnvOrDefault("DB_HOST", "localhost"),
			Port:            5432,
			User:            getEnvOrDefault("DB_USER", "dev"),
			Password:        getEnvOrDefault("DB_PASSWORD", "fairness_password"),
			Database:        getEnvOrDefault("DB_NAME", "fairness_test"),
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
			AutoMigrate:     true,
		},
		Engine: config.EngineConfig{
			BaseURL:         "http://localhost:8000",
			UploadTimeout:   10 * time.Second,
			ComputeTimeout:  10 * time.Second,
			MaxDatasetBytes: 1 << 20,
		},
		Storage: config.StorageConfig{
			Root: t.TempDir(),
		},
		Orchestrator: config.OrchestratorConfig{
			LeaseTTL:     time.Minute,
			StaleAfter:   2 * time.Minute,
			EventWorkers: 1,
			EventBuffer:  16,
		},
		Observability: config.ObservabilityConfig{
			LogLevel:       "debug",
			LogFormat:      "json",
			MetricsEnabled: false,
		},
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func isDatabaseAvailable(t *testing.T, cfg *config.Config) bool {
	logger := zap.NewNop()
	factory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return false
	}
	defer factory.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	return factory.GetDB().PingContext(ctx) == nil
}
