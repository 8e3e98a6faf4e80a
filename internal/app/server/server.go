package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"prospectcrm/internal/domain/audit"
	"prospectcrm/internal/domain/auth"
	"prospectcrm/internal/domain/customers"
	"prospectcrm/internal/domain/progression"
	"prospectcrm/internal/platform/config"
	cryptoutil "prospectcrm/internal/platform/crypto"
	"prospectcrm/internal/platform/db"
	"prospectcrm/internal/platform/jobs"
	"prospectcrm/internal/platform/metrics"
	"prospectcrm/internal/platform/storage"
	"prospectcrm/internal/transport/http/api"
	audithandler "prospectcrm/internal/transport/http/handlers/audit"
	authhandler "prospectcrm/internal/transport/http/handlers/auth"
	customershandler "prospectcrm/internal/transport/http/handlers/customers"
	progressionhandler "prospectcrm/internal/transport/http/handlers/progression"
	"prospectcrm/internal/transport/http/middleware"
)

const shutdownTimeout = 15 * time.Second

type App struct {
	Config      config.Config
	DB          *pgxpool.Pool
	Logger      *slog.Logger
	Metrics     *metrics.Collector
	Perms       *auth.Enforcer
	Audit       *audit.Service
	Progression *progression.Service
	Customers   *customers.Service
	Jobs        *jobs.Service
	Files       storage.Backend
	Router      http.Handler
}

// NewLogger installs the process-wide JSON logger at the configured level.
func NewLogger(cfg config.Config) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	return logger
}

// New connects to the database, applies migrations and seed data when
// enabled, and wires every service. Close releases what New opened.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := NewLogger(cfg)

	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	app := &App{Config: cfg, DB: pool, Logger: logger, Metrics: metrics.New()}

	if cfg.RunMigrations {
		if err := db.Migrate(ctx, pool, cfg.MigrationsDir); err != nil {
			app.Close(ctx)
			return nil, fmt.Errorf("migrations: %w", err)
		}
	}
	if cfg.RunSeed {
		if err := db.Seed(ctx, pool, cfg); err != nil {
			app.Close(ctx)
			return nil, fmt.Errorf("seed: %w", err)
		}
	}

	if err := app.wire(ctx); err != nil {
		app.Close(ctx)
		return nil, err
	}
	app.Router = app.routes()
	return app, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config

	policy, err := auth.NewStore(a.DB).RolePolicy(ctx)
	if err != nil || len(policy) == 0 {
		a.Logger.Warn("role policy unavailable, using built-in permissions", "err", err)
		policy = auth.RolePermissions
	}
	if a.Perms, err = auth.NewEnforcer(policy); err != nil {
		return err
	}

	crypto, err := cryptoutil.New(cfg.DataEncryptionKey)
	if err != nil {
		return fmt.Errorf("encryption key: %w", err)
	}
	if a.Files, err = storage.New(ctx, cfg, crypto); err != nil {
		return fmt.Errorf("evidence storage: %w", err)
	}

	advancePolicy, err := progression.ParseAdvancePolicy(cfg.AdvancePolicy)
	if err != nil {
		return err
	}
	table, err := progression.LoadCategoryTable(cfg.CategoryTablePath)
	if err != nil {
		return err
	}

	a.Audit = audit.New(a.DB)
	a.Progression = progression.NewService(
		progression.NewStore(a.DB),
		progression.NewResolver(table),
		progression.Config{
			Policy:                     advancePolicy,
			DeveloperMode:              cfg.DeveloperMode,
			LegacyZeroAssignedComplete: cfg.LegacyZeroAssignedComplete,
		},
		progression.WithValidator(progression.NewValidator(progression.WithGenericTextMinLength(cfg.GenericTextMinLength))),
		progression.WithFileStore(a.Files),
		progression.WithAudit(a.Audit),
		progression.WithCounter(a.Metrics),
		progression.WithLogger(a.Logger.With("component", "progression")),
	)
	a.Customers = customers.NewService(
		customers.NewStore(a.DB),
		customers.WithAudit(a.Audit),
		customers.WithLogger(a.Logger.With("component", "customers")),
	)
	a.Jobs = jobs.New(jobs.PGRunLog{DB: a.DB}, a.Progression, cfg.ScoreSweepInterval, a.Logger.With("component", "jobs"))
	return nil
}

func (a *App) routes() http.Handler {
	cfg := a.Config
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(a.Logger, a.Metrics))
	router.Use(middleware.Recoverer)
	router.Use(middleware.SecureHeaders(cfg.Environment == "production"))
	router.Use(middleware.BodyLimit(cfg.MaxBodyBytes, cfg.MaxUploadBytes))
	router.Use(middleware.Auth(cfg.JWTSecret))
	router.Use(middleware.MutationThrottle(cfg.RateLimitPerMinute, time.Minute))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.DB.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if cfg.MetricsEnabled {
		router.With(middleware.RequireAuth, middleware.RequirePermission(auth.PermMetricsRead, a.Perms)).
			Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
				api.Success(w, a.Metrics.Snapshot(), middleware.GetRequestID(r.Context()))
			})
	}

	router.Route("/api/v1", func(r chi.Router) {
		authHandler := authhandler.NewHandler(auth.NewService(auth.NewStore(a.DB), cfg.JWTSecret))
		r.Post("/auth/login", authHandler.HandleLogin)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth)

			progressionhandler.NewHandler(a.Progression, a.Perms, cfg.MaxUploadBytes).RegisterRoutes(r)
			customershandler.NewHandler(a.Customers, a.Perms).RegisterRoutes(r)
			audithandler.NewHandler(a.Audit, a.Perms).RegisterRoutes(r)

			r.With(middleware.RequirePermission(auth.PermSystemAdmin, a.Perms)).Post("/scores/sweep", a.handleSweep)
		})
	})

	return router
}

func (a *App) handleSweep(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	if !a.Jobs.Enqueue(jobs.JobScoreSweep, func(ctx context.Context) (any, error) {
		return a.Progression.SweepScores(ctx)
	}) {
		api.Fail(w, http.StatusServiceUnavailable, "queue_full", "job queue is full, retry later", reqID)
		return
	}
	api.Accepted(w, map[string]string{"job": jobs.JobScoreSweep}, reqID)
}

// Run serves HTTP and the background jobs until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.Jobs.Start(ctx)

	srv := &http.Server{
		Addr:              a.Config.Addr,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("server listening", "addr", a.Config.Addr, "env", a.Config.Environment)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.Logger.Info("server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (a *App) Close(ctx context.Context) {
	if a.Files != nil {
		if err := a.Files.Close(ctx); err != nil {
			a.Logger.Warn("evidence storage close failed", "err", err)
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
