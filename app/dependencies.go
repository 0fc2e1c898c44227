package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Franck-F/fairness-sub000/auth"
	"github.com/Franck-F/fairness-sub000/config"
	"github.com/Franck-F/fairness-sub000/internal/observability"
	"github.com/Franck-F/fairness-sub000/middleware"
	"github.com/Franck-F/fairness-sub000/repositories"
	"github.com/Franck-F/fairness-sub000/repositories/postgres"
	"github.com/Franck-F/fairness-sub000/services/datasets"
	"github.com/Franck-F/fairness-sub000/services/engine"
	"github.com/Franck-F/fairness-sub000/services/ingestion"
	"github.com/Franck-F/fairness-sub000/services/orchestrator"
	"github.com/Franck-F/fairness-sub000/services/runguard"
	"github.com/Franck-F/fairness-sub000/services/runlog"
	"github.com/Franck-F/fairness-sub000/services/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config   *config.Config
	DB       *postgres.DB
	Redis    redis.UniversalClient // nil when the in-process guard is used
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory
	Repos       *repositories.Repositories

	// Pipeline
	Store        storage.ObjectStore
	Materializer *datasets.Materializer
	Engine       *engine.Client
	Ingestion    *ingestion.Adapter
	Guard        runguard.Guard
	RunLog       *runlog.Service
	Orchestrator *orchestrator.Service

	// Auth
	AuthMiddleware *middleware.AuthMiddleware
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	deps.initMetrics()

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initRedis(ctx, cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	if err := deps.initPipeline(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initMetrics creates the registry scraped by /metrics
func (d *Dependencies) initMetrics() {
	d.Registry = prometheus.NewRegistry()
	d.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.Metrics = observability.NewMetrics(d.Registry)
}

// initDatabase opens the pool, applies migrations and builds the repositories
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if cfg.Database.AutoMigrate {
		if err := factory.Migrate(ctx); err != nil {
			_ = factory.Close()
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
	}

	d.Repos = factory.NewRepositories()
	d.Logger.Info("repositories initialized")
	return nil
}

// initRedis connects the shared run guard store when REDIS_URL is set
func (d *Dependencies) initRedis(ctx context.Context, cfg *config.Config) error {
	if cfg.Redis.URL == "" {
		d.Guard = runguard.NewMemoryGuard(cfg.Orchestrator.LeaseTTL, d.Logger)
		d.Logger.Warn("redis not configured, run guard is process-local")
		return nil
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}

	d.Redis = client
	d.Guard = runguard.NewRedisGuard(client, cfg.Redis.KeyPrefix, cfg.Orchestrator.LeaseTTL, d.Logger)
	d.Logger.Info("redis run guard initialized", zap.String("addr", opts.Addr))
	return nil
}

// initPipeline wires storage, the engine client, ingestion and the orchestrator
func (d *Dependencies) initPipeline(cfg *config.Config) error {
	store, err := storage.NewFileStore(cfg.Storage.Root, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to open dataset store: %w", err)
	}
	d.Store = store

	d.Materializer = datasets.NewMaterializer(d.Repos.Datasets, store, cfg.Engine.MaxDatasetBytes, d.Logger)

	d.Engine = engine.NewClient(engine.Config{
		BaseURL:            cfg.Engine.BaseURL,
		APIKey:             cfg.Engine.APIKey,
		UploadTimeout:      cfg.Engine.UploadTimeout,
		ComputeTimeout:     cfg.Engine.ComputeTimeout,
		BreakerMaxFailures: cfg.Engine.BreakerMaxFailures,
		BreakerOpenTimeout: cfg.Engine.BreakerOpenTimeout,
		RateLimit:          cfg.Engine.RateLimit,
		RateBurst:          cfg.Engine.RateBurst,
	}, &http.Client{}, d.Metrics, d.Logger)

	d.Ingestion = ingestion.NewAdapter(d.Materializer, d.Engine, d.Repos.Datasets, cfg.Engine.HandleReuseTTL, d.Logger)

	d.RunLog = runlog.NewService(d.Repos.RunEvents, d.Metrics, d.Logger, runlog.Config{
		BufferSize:  cfg.Orchestrator.EventBuffer,
		WorkerCount: cfg.Orchestrator.EventWorkers,
	})
	if err := d.RunLog.Start(); err != nil {
		return fmt.Errorf("failed to start run log: %w", err)
	}

	d.Orchestrator = orchestrator.NewService(
		d.Repos,
		d.Ingestion,
		d.Engine,
		d.Guard,
		d.RunLog,
		d.Metrics,
		orchestrator.Config{
			StaleAfter:      cfg.Orchestrator.StaleAfter,
			TerminalTimeout: cfg.Orchestrator.TerminalTimeout,
		},
		d.Logger,
	)

	d.Logger.Info("audit pipeline initialized",
		zap.String("engine", cfg.Engine.BaseURL),
		zap.String("storage_root", store.Root()))
	return nil
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	if cfg.Auth.JWTSecret == "" {
		d.Logger.Warn("JWT secret not configured, protected routes reject all requests")
		d.AuthMiddleware = middleware.NewAuthMiddleware(&rejectAllValidator{}, d.Logger)
		return
	}
	validator := auth.NewJWTValidator(auth.Config{
		Secret:   cfg.Auth.JWTSecret,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		Leeway:   30 * time.Second,
	})
	d.AuthMiddleware = middleware.NewAuthMiddleware(&jwtTokenValidatorAdapter{validator: validator}, d.Logger)
	d.Logger.Info("bearer token authentication initialized")
}

// jwtTokenValidatorAdapter adapts auth.JWTValidator to middleware.TokenValidator
type jwtTokenValidatorAdapter struct {
	validator *auth.JWTValidator
}

func (a *jwtTokenValidatorAdapter) ValidateToken(ctx context.Context, token string) (*middleware.Claims, error) {
	parsed, err := a.validator.ValidateToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return &middleware.Claims{
		Sub:   parsed.Sub.String(),
		Email: parsed.Email,
		Name:  parsed.Name,
		Exp:   parsed.ExpiresAt.Unix(),
		Iat:   parsed.IssuedAt.Unix(),
	}, nil
}

// rejectAllValidator rejects all tokens (used when no JWT secret is configured)
type rejectAllValidator struct{}

func (*rejectAllValidator) ValidateToken(context.Context, string) (*middleware.Claims, error) {
	return nil, errors.New("authentication not configured")
}

// Close gracefully shuts down all dependencies. It is safe to call twice.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.RunLog != nil {
		timeout := 5 * time.Second
		if d.Config != nil && d.Config.Orchestrator.EventStopTimeout > 0 {
			timeout = d.Config.Orchestrator.EventStopTimeout
		}
		if err := d.RunLog.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop run log: %w", err))
		}
		d.RunLog = nil
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
		d.Redis = nil
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.RepoFactory = nil
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return errors.Join(errs...)
}
