package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"nuam-capital/portal/internal/app"
	"nuam-capital/portal/internal/config"
	"nuam-capital/portal/internal/httpapi"
	"nuam-capital/portal/internal/logging"
	"nuam-capital/portal/internal/metrics"
	"nuam-capital/portal/internal/session"
)

func main() {
	os.Exit(serve())
}

// serve returns the exit code; deferred cleanup runs before main exits.
func serve() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	log, err := logging.New(logging.Config{Environment: cfg.Environment, Level: cfg.LogLevel, Service: "portal"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("portal stopped", zap.Error(err))
		return 1
	}
	return 0
}

func run(cfg config.Config, log *zap.Logger) error {
	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	if cfg.SecretKey == "" {
		if cfg.Environment == "production" {
			return errors.New("NUAM_SECRET_KEY is required in production")
		}
		log.Warn("secret key not set, sessions will not survive a restart")
	}

	st, closeStore, err := app.OpenStore(rootCtx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	sessStore, memSessions, closeSessions, err := app.OpenSessions(cfg, log)
	if err != nil {
		return err
	}
	defer closeSessions()

	m := metrics.New()
	svc := app.NewAuthService(cfg, st, app.NewMailer(cfg, log), m, log)
	sessions := session.NewManager(sessStore, cfg.SecretKey, session.Options{
		TTL:    cfg.SessionTTL,
		Secure: cfg.Environment == "production",
	})

	retention := &app.Retention{Tokens: st, Days: cfg.TokenRetentionDays, Log: log.Named("retention")}
	if memSessions != nil {
		retention.Sessions = memSessions
	}
	scheduler, err := retention.Schedule(rootCtx, cfg.RetentionSchedule)
	if err != nil {
		return fmt.Errorf("retention schedule %q: %w", cfg.RetentionSchedule, err)
	}
	defer scheduler.Stop()

	srv := httpapi.NewServer(cfg, st, svc, sessions, httpapi.WithLogger(log), httpapi.WithMetrics(m))

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("portal listening", zap.String("addr", cfg.ListenAddr()), zap.String("env", cfg.Environment))
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case <-stop:
		log.Info("shutdown requested")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	cancelRoot()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
	return serveErr
}
