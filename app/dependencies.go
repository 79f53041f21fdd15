package app

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/upb/command-bridge/config"
	"github.com/upb/command-bridge/middleware"
	"github.com/upb/command-bridge/repositories"
	"github.com/upb/command-bridge/repositories/postgres"
	"github.com/upb/command-bridge/services/audit"
	"github.com/upb/command-bridge/services/commands"
	"github.com/upb/command-bridge/services/credentials"
	"github.com/upb/command-bridge/services/gateway"
	"github.com/upb/command-bridge/services/ratelimit"
	"github.com/upb/command-bridge/services/sessions"
	"github.com/upb/command-bridge/services/targets"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger

	// Audit trail; DB and ConnectionEvents are nil without DATABASE_URL.
	RepoFactory      *postgres.RepositoryFactory
	DB               *postgres.DB
	ConnectionEvents repositories.ConnectionEventRepository
	AuditService     *audit.Service
	Recorder         audit.Recorder

	// Bridge core
	Validator  *credentials.Validator
	Registry   *sessions.Registry
	Targets    *targets.Store
	Gate       *gateway.Gate
	Dispatcher *commands.Dispatcher

	// Caller middleware
	Resolver    *middleware.RequestContextResolver
	RateLimiter *ratelimit.RateLimitService
	RateLimit   *middleware.RateLimitMiddleware

	draining    atomic.Bool
	stopCh      chan struct{}
	stopWorkers context.CancelFunc
	closeOnce   sync.Once
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:   cfg,
		Logger:   logger,
		Recorder: audit.NoopRecorder{},
		stopCh:   make(chan struct{}),
	}

	if cfg.Database != nil {
		if err := deps.initDatabase(ctx, cfg); err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		if err := deps.initAudit(cfg); err != nil {
			_ = deps.RepoFactory.Close()
			return nil, fmt.Errorf("failed to initialize audit trail: %w", err)
		}
	} else {
		logger.Warn("DATABASE_URL not set, connection audit trail disabled")
	}

	deps.initCredentials(cfg)
	deps.initBridge(cfg)
	deps.startWorkers(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.Bool("multi_tenant", cfg.Auth.MultiTenant),
		zap.Bool("audit_enabled", deps.AuditService != nil),
		zap.Bool("rate_limit_enabled", deps.RateLimiter.Enabled()))
	return deps, nil
}

// initDatabase initializes the PostgreSQL connection and repositories
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(ctx, *cfg.Database, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()
	d.ConnectionEvents = factory.NewRepositories().ConnectionEvents

	d.Logger.Info("repositories initialized")
	return nil
}

func (d *Dependencies) initAudit(cfg *config.Config) error {
	svc := audit.NewService(d.ConnectionEvents, d.Logger, audit.Config{
		BufferSize:  cfg.Database.AuditBufferSize,
		WorkerCount: cfg.Database.AuditWorkers,
	})
	if err := svc.Start(); err != nil {
		return err
	}
	d.AuditService = svc
	d.Recorder = svc
	return nil
}

func (d *Dependencies) initCredentials(cfg *config.Config) {
	audience := ""
	if u, err := url.Parse(cfg.Auth.ValidationURL); err == nil {
		audience = u.Host
	}

	d.Validator = credentials.NewValidator(credentials.Config{
		URL:          cfg.Auth.ValidationURL,
		Timeout:      cfg.Auth.ValidationTimeout,
		MaxRetries:   cfg.Auth.MaxRetries,
		RetryBackoff: cfg.Auth.RetryBackoff,
		CacheTTL:     cfg.Auth.CacheTTL,
		CacheMaxSize: cfg.Auth.CacheMaxSize,
		MultiTenant:  cfg.Auth.MultiTenant,
		ServiceAuth: credentials.NewServiceAuthenticator(
			cfg.Auth.ServiceHeader,
			cfg.Auth.ServiceToken,
			cfg.Auth.ServiceSigningSecret,
			cfg.Auth.ServiceIssuer,
			audience,
		),
	}, &http.Client{}, d.Logger.Named("credentials"))
}

func (d *Dependencies) initBridge(cfg *config.Config) {
	multiTenant := cfg.Auth.MultiTenant

	d.Registry = sessions.NewRegistry(multiTenant, nil, d.Logger.Named("sessions"))
	d.Targets = targets.NewStore()
	d.Gate = gateway.NewGate(gateway.Options{
		MultiTenant:    multiTenant,
		CommandTimeout: cfg.Bridge.CommandTimeout,
		PingInterval:   cfg.Bridge.PingInterval,
		WriteTimeout:   cfg.Bridge.WriteTimeout,
	}, d.Validator, d.Registry, d.Targets, d.Recorder, d.Logger.Named("gateway"))
	d.Dispatcher = commands.NewDispatcher(d.Registry, d.Targets, d.Gate, d.Logger.Named("commands"))

	d.Resolver = middleware.NewRequestContextResolver(multiTenant, d.Validator, d.Registry, d.Targets,
		cfg.Auth.LoginURL, d.Logger.Named("resolver"))
	d.RateLimiter = ratelimit.NewRateLimitService(cfg.RateLimit.RPS, cfg.RateLimit.Burst, d.Logger.Named("ratelimit"))
	d.RateLimit = middleware.NewRateLimitMiddleware(d.RateLimiter, d.Logger)
}

func (d *Dependencies) startWorkers(cfg *config.Config) {
	ctx, cancel := context.WithCancel(context.Background())
	d.stopWorkers = cancel

	if cfg.Auth.CacheCleanup > 0 {
		go d.Validator.StartCleanupWorker(cfg.Auth.CacheCleanup, d.stopCh)
	}
	if d.RateLimiter.Enabled() {
		go d.RateLimiter.StartCleanupWorker(ctx, time.Minute, 10*time.Minute)
	}
}

// SetDraining marks the process as shutting down; readiness fails from then on.
func (d *Dependencies) SetDraining() {
	d.draining.Store(true)
}

// Draining reports whether shutdown has begun.
func (d *Dependencies) Draining() bool {
	return d.draining.Load()
}

// Close gracefully shuts down all dependencies: backend connections are
// closed with "going away", then queued audit events are flushed.
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error

	d.closeOnce.Do(func() {
		d.Logger.Info("shutting down dependencies")
		d.SetDraining()

		if d.Gate != nil {
			if err := d.Gate.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to close backend connections: %w", err))
			}
		}

		close(d.stopCh)
		if d.stopWorkers != nil {
			d.stopWorkers()
		}

		if d.AuditService != nil {
			if err := d.AuditService.Stop(5 * time.Second); err != nil {
				errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
			}
		}

		if d.RepoFactory != nil {
			if err := d.RepoFactory.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close database: %w", err))
			} else {
				d.Logger.Info("database connection closed")
			}
		}

		_ = d.Logger.Sync()
	})

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}
