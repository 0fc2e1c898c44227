package routes

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/Franck-F/fairness-sub000/app"
	"github.com/Franck-F/fairness-sub000/handlers"
	appmiddleware "github.com/Franck-F/fairness-sub000/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Options holds what the router needs from the wired application
type Options struct {
	Audits         handlers.AuditService
	Auth           *appmiddleware.AuthMiddleware
	DB             *sql.DB
	Redis          redis.UniversalClient
	Engine         handlers.EngineBreaker // nil omits the engine check from /readyz
	Gatherer       prometheus.Gatherer    // nil disables /metrics
	CORSOrigins    []string
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// SetupRoutes configures all application routes from the wired dependencies
func SetupRoutes(deps *app.Dependencies) http.Handler {
	opts := Options{
		Auth:   deps.AuthMiddleware,
		Redis:  deps.Redis,
		Logger: deps.Logger,
	}
	if deps.Orchestrator != nil {
		opts.Audits = deps.Orchestrator
	}
	if deps.Engine != nil {
		opts.Engine = deps.Engine
	}
	if deps.DB != nil {
		opts.DB = deps.DB.DB
	}
	if deps.Config != nil {
		opts.CORSOrigins = deps.Config.Server.CORSOrigins
		opts.RequestTimeout = deps.Config.Server.WriteTimeout
		if deps.Config.Observability.MetricsEnabled && deps.Registry != nil {
			opts.Gatherer = deps.Registry
		}
	}
	return NewRouter(opts)
}

// NewRouter builds the chi router and its middleware chain
func NewRouter(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.Auth == nil {
		opts.Auth = appmiddleware.NewAuthMiddleware(denyAll{}, opts.Logger)
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"http://localhost:*"}
	}

	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	health := handlers.NewHealthHandler(opts.DB, opts.Redis, opts.Logger)
	if opts.Engine != nil {
		health = health.WithEngine(opts.Engine)
	}
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	audits := handlers.NewAuditHandler(opts.Audits, opts.Logger)
	mountAudits := func(r chi.Router) {
		r.Route("/audits/{id}", func(r chi.Router) {
			r.Use(opts.Auth.RequireAuth)
			r.Get("/", audits.HandleGet)
			r.Post("/compute", audits.HandleCompute)
			r.Get("/events", audits.HandleListEvents)
		})
	}

	mountAudits(r)
	r.Route("/api/v1", mountAudits)

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not_found","message":"endpoint not found"}`))
	})

	return r
}

// denyAll rejects every token when no authenticator is wired
type denyAll struct{}

func (denyAll) ValidateToken(context.Context, string) (*appmiddleware.Claims, error) {
	return nil, errors.New("authentication not configured")
}
