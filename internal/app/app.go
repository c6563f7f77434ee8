// Package app assembles the portal's dependencies from configuration. Both
// the server and the admin CLI build their stores, mailer and auth service here.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"nuam-capital/portal/internal/auth"
	"nuam-capital/portal/internal/config"
	"nuam-capital/portal/internal/mailer"
	"nuam-capital/portal/internal/metrics"
	"nuam-capital/portal/internal/session"
	"nuam-capital/portal/internal/store"
	"nuam-capital/portal/internal/store/memory"
	"nuam-capital/portal/internal/store/postgres"
)

// OpenStore returns the Postgres store when a database URL is configured and
// the in-memory store otherwise. The returned func releases it.
func OpenStore(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Info("using memory store")
		return memory.NewStore(), func() {}, nil
	}

	pg, err := postgres.NewStore(cfg.DatabaseURL, cfg.Location())
	if err != nil {
		return nil, nil, fmt.Errorf("init postgres store: %w", err)
	}
	if cfg.AutoMigrate {
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		log.Info("migrations applied")
	}
	log.Info("using postgres store")
	return pg, pg.Close, nil
}

// OpenSessions returns the Redis session store when configured. The memory
// store is returned as well so callers can schedule its sweep.
func OpenSessions(cfg config.Config, log *zap.Logger) (session.Store, *session.MemoryStore, func(), error) {
	if cfg.RedisURL == "" {
		log.Info("using memory session store")
		ms := session.NewMemoryStore()
		return ms, ms, func() {}, nil
	}

	rs, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init redis session store: %w", err)
	}
	log.Info("using redis session store")
	return rs, nil, func() { _ = rs.Close() }, nil
}

func NewMailer(cfg config.Config, log *zap.Logger) mailer.Sender {
	if !cfg.SMTP.Enabled() {
		log.Warn("smtp not configured, emails will only be logged")
		return mailer.Log{Logger: log.Named("mail")}
	}

	smtp := mailer.NewSMTP(mailer.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		TLS:      cfg.SMTP.TLS,
	})
	return mailer.NewBreaker(smtp, mailer.BreakerSettings{Name: "smtp"}, log)
}

func NewAuthService(cfg config.Config, st store.Store, ms mailer.Sender, m *metrics.Metrics, log *zap.Logger) *auth.Service {
	return auth.NewService(st, ms, auth.Config{
		MFACodeTTL:    cfg.MFACodeTTL,
		ResetTokenTTL: cfg.ResetTokenTTL,
		From:          cfg.SMTP.From,
		SiteName:      cfg.Branding.SiteName,
	}, auth.WithMetrics(m), auth.WithLogger(log.Named("auth")))
}
