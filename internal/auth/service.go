// Package auth implements login with optional email MFA and password recovery.
//
// Session-scoped state (the pending marker and the authenticated user id) is
// read and written through SessionState; the HTTP layer owns cookies and
// session id rotation.
package auth

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"nuam-capital/portal/internal/clock"
	"nuam-capital/portal/internal/mailer"
	"nuam-capital/portal/internal/metrics"
	"nuam-capital/portal/internal/session"
	"nuam-capital/portal/internal/store"
)

const (
	MinPasswordLength = 6
	// MaxPasswordBytes is the bcrypt input limit.
	MaxPasswordBytes = 72
	MFATypeEmail      = "email"

	DefaultMFACodeTTL    = 10 * time.Minute
	DefaultResetTokenTTL = 24 * time.Hour
)

// SessionState is the slice of a browsing session the flows need.
// *session.Session implements it.
type SessionState interface {
	Get(key string) string
	Set(key, value string)
	Delete(keys ...string)
}

var _ SessionState = (*session.Session)(nil)

type Config struct {
	MFACodeTTL    time.Duration
	ResetTokenTTL time.Duration
	// From is the sender address of auth emails.
	From string
	// SiteName appears in email subjects and the TOTP issuer.
	SiteName string
	// BCryptCost defaults to bcrypt.DefaultCost.
	BCryptCost int
}

type Service struct {
	store   store.Store
	mail    mailer.Sender
	clock   clock.Clock
	metrics *metrics.Metrics
	log     *zap.Logger
	cfg     Config

	newCode func() (string, error)
}

type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithCodeGenerator replaces the MFA code source.
func WithCodeGenerator(fn func() (string, error)) Option {
	return func(s *Service) { s.newCode = fn }
}

func NewService(st store.Store, ms mailer.Sender, cfg Config, opts ...Option) *Service {
	if cfg.MFACodeTTL <= 0 {
		cfg.MFACodeTTL = DefaultMFACodeTTL
	}
	if cfg.ResetTokenTTL <= 0 {
		cfg.ResetTokenTTL = DefaultResetTokenTTL
	}
	if cfg.SiteName == "" {
		cfg.SiteName = "NUAM Capital"
	}
	if cfg.BCryptCost == 0 {
		cfg.BCryptCost = bcrypt.DefaultCost
	}

	s := &Service{
		store:   st,
		mail:    ms,
		clock:   clock.System{},
		log:     zap.NewNop(),
		cfg:     cfg,
		newCode: GenerateCode,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

var codeSpan = big.NewInt(900000)

// GenerateCode draws a 6-digit code uniformly from [100000, 999999].
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpan)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+100000, 10), nil
}

func (s *Service) hashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), s.cfg.BCryptCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
