package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"nuam-capital/portal/internal/clock"
)

type tokenPurger interface {
	PurgePasswordResetTokens(ctx context.Context, before time.Time) (int, error)
}

type sweeper interface {
	Sweep() int
}

// Retention removes used or expired reset tokens older than Days and, when
// sessions live in memory, drops expired sessions.
type Retention struct {
	Tokens   tokenPurger
	Sessions sweeper
	Days     int
	Clock    clock.Clock
	Log      *zap.Logger
}

// RunOnce performs a single purge pass.
func (r *Retention) RunOnce(ctx context.Context) {
	now := time.Now()
	if r.Clock != nil {
		now = r.Clock.Now()
	}
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}

	if r.Tokens != nil && r.Days > 0 {
		before := now.Add(-time.Duration(r.Days) * 24 * time.Hour)
		ctxPurge, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		n, err := r.Tokens.PurgePasswordResetTokens(ctxPurge, before)
		if err != nil {
			log.Error("retention purge failed", zap.Error(err))
		} else if n > 0 {
			log.Info("retention purged reset tokens", zap.Int("count", n), zap.Time("before", before))
		}
	}

	if r.Sessions != nil {
		if n := r.Sessions.Sweep(); n > 0 {
			log.Info("retention swept sessions", zap.Int("count", n))
		}
	}
}

// Schedule runs one pass immediately and then on spec (standard cron syntax
// or descriptors like "@daily"). Stop the returned cron to end the schedule.
func (r *Retention) Schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { r.RunOnce(ctx) }); err != nil {
		return nil, err
	}
	r.RunOnce(ctx)
	c.Start()
	return c, nil
}
