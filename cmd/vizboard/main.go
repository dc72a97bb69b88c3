// Vizboard — AI dashboard generation platform
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	vizapi "github.com/vizboardhq/vizboard/internal/api"
	"github.com/vizboardhq/vizboard/internal/api/handler"
	"github.com/vizboardhq/vizboard/internal/auth"
	"github.com/vizboardhq/vizboard/internal/config"
	"github.com/vizboardhq/vizboard/internal/db"
	"github.com/vizboardhq/vizboard/internal/generation"
	"github.com/vizboardhq/vizboard/internal/health"
	"github.com/vizboardhq/vizboard/internal/ledger"
	"github.com/vizboardhq/vizboard/internal/observability"
	"github.com/vizboardhq/vizboard/internal/ratelimit"
	"github.com/vizboardhq/vizboard/internal/seed"
	"github.com/vizboardhq/vizboard/internal/version"
	"github.com/vizboardhq/vizboard/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability -------------------------------------------------------
	obs, log, err := observability.New(ctx, &observability.Config{
		ServiceName:    "vizboard",
		ServiceVersion: version.Version,
		LogLevel:       cfg.Log.Level,
		LogFormat:      cfg.Log.Format,
		OTLPEndpoint:   cfg.OTel.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer obs.Shutdown(context.Background())
	slog.SetDefault(log)
	log.Info("starting vizboard", "version", version.Version, "commit", version.Commit, "db_driver", cfg.DB.Driver)

	// --- Database ------------------------------------------------------------
	// db.New opens the connection, runs migrations (AutoMigrate for SQLite,
	// golang-migrate for Postgres), and returns the GORM handle plus an
	// optional pgxpool (non-nil only for postgres, used by River).
	gormDB, pool, err := db.New(ctx, &cfg.DB)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	if pool != nil {
		defer pool.Close()
	}
	log.Info("database ready", "driver", cfg.DB.Driver)

	// --- Seed admin ----------------------------------------------------------
	if err := seed.EnsureAdmin(ctx, gormDB, seed.AdminOptions{
		Email:    cfg.App.SeedAdminEmail,
		Password: cfg.App.SeedAdminPassword,
	}, log); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	// --- Generation worker ---------------------------------------------------
	// River migrations only run when Postgres is available.
	if pool != nil {
		if err := worker.MigrateRiver(ctx, pool); err != nil {
			return fmt.Errorf("river migrations: %w", err)
		}
		log.Info("river migrations applied")
	}

	agent := generation.NewAgent(cfg.AI.Provider)
	machine := generation.NewMachine(gormDB, ledger.New(gormDB))
	runner := worker.NewRunner(gormDB, agent, machine, log)

	wq, err := worker.New(ctx, pool, cfg.DB.Driver, cfg.Worker.Concurrency, runner, log)
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	if err := wq.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := wq.Stop(stopCtx); err != nil {
			log.Error("worker stop error", "err", err)
		}
	}()

	// --- HTTP routes ---------------------------------------------------------
	sessions := auth.NewViewerSessionStore(gormDB, cfg.App.ViewerSessionTTL)
	otpService := auth.NewOTPService(gormDB, &auth.LogMailer{Log: log}, cfg.App.OTPTTL)
	limiter := ratelimit.New(cfg.Limit.Window)

	handlers := vizapi.Handlers{
		Health:     health.New(db.NewPinger(gormDB)),
		Auth:       handler.NewAuthHandler(gormDB, cfg.JWT.Secret, cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL),
		Dashboards: handler.NewDashboardHandler(gormDB, wq, sessions, log),
		OTP:        handler.NewOTPHandler(gormDB, otpService, sessions, limiter, cfg, log),
		Orgs:       handler.NewOrgHandler(gormDB, log),
		Workspaces: handler.NewWorkspaceHandler(gormDB, log),
		Billing:    handler.NewBillingHandler(gormDB, log),
		Domains:    handler.NewDomainHandler(gormDB, log),
		Sheets:     handler.NewSheetHandler(gormDB, log),
	}

	mux := http.NewServeMux()
	vizapi.RegisterRoutes(mux, handlers, cfg.JWT.Secret)
	// Prometheus metrics endpoint
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Start server --------------------------------------------------------
	log.Info("http server listening", "addr", srv.Addr)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	log.Info("server stopped cleanly")
	return nil
}
