package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	jenkinsadapter "github.com/pipeboard/pipeboard/internal/adapter/driven/jenkins"
	slackadapter "github.com/pipeboard/pipeboard/internal/adapter/driven/slack"
	sqliteadapter "github.com/pipeboard/pipeboard/internal/adapter/driven/sqlite"
	httphandler "github.com/pipeboard/pipeboard/internal/adapter/driving/http"
	"github.com/pipeboard/pipeboard/internal/application"
	"github.com/pipeboard/pipeboard/internal/config"
	"github.com/pipeboard/pipeboard/internal/domain/port/driven"
	"github.com/pipeboard/pipeboard/internal/events"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"poll_interval", cfg.PollInterval,
		"jenkins_url", cfg.JenkinsURL,
		"alerts_enabled", cfg.AlertsEnabled(),
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire adapters.
	runStore := sqliteadapter.NewRunRepo(db)
	jenkinsClient := jenkinsadapter.NewClient(cfg.JenkinsURL, cfg.JenkinsUsername, cfg.JenkinsAPIToken, cfg.UpstreamTimeout)

	var notifier driven.Notifier
	if cfg.AlertsEnabled() {
		notifier = slackadapter.NewNotifier(cfg.SlackWebhookURL, cfg.UpstreamTimeout)
		slog.Info("slack notifier created")
	} else {
		slog.Info("no slack webhook configured, failure alerts disabled")
	}

	// 6. Create services and the event broker.
	broker := events.NewBroker()
	defer broker.Close()

	alertSvc := application.NewAlertService(runStore, notifier, cfg.JenkinsURL, cfg.JenkinsPublicURL)
	syncSvc := application.NewSyncService(
		jenkinsClient,
		runStore,
		alertSvc,
		broker,
		cfg.DefaultTriggeredBy,
		cfg.PollInterval,
	)
	go syncSvc.Start(ctx)

	// 7. Create HTTP handler and server.
	apiHandler := httphandler.NewHandler(runStore, syncSvc, jenkinsClient, broker, slog.Default())
	handler := httphandler.NewServeMux(apiHandler, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// No WriteTimeout: the event stream endpoint holds connections open.
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("pipeboard started",
		"listen_addr", cfg.ListenAddr,
		"poll_interval", cfg.PollInterval,
	)

	// 8. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 9. Graceful shutdown with 10s timeout to drain in-flight requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
