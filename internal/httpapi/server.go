package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"nuam-capital/portal/internal/auth"
	"nuam-capital/portal/internal/clock"
	"nuam-capital/portal/internal/config"
	"nuam-capital/portal/internal/metrics"
	"nuam-capital/portal/internal/session"
	"nuam-capital/portal/internal/store"
)

type Server struct {
	cfg      config.Config
	store    store.Store
	auth     *auth.Service
	sessions *session.Manager
	metrics  *metrics.Metrics
	log      *zap.Logger
	clock    clock.Clock
	mux      *http.ServeMux
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

func NewServer(cfg config.Config, st store.Store, svc *auth.Service, sessions *session.Manager, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		auth:     svc,
		sessions: sessions,
		log:      zap.NewNop(),
		clock:    clock.System{},
		mux:      http.NewServeMux(),
	}
	for _, o := range opts {
		o(s)
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = recoverMiddleware(s.log, h)
	h = s.authMiddleware(h)
	h = loggingMiddleware(s.log, s.metrics, h)
	h = requestIDMiddleware(h)
	return h
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}

	// HTML screens.
	s.mux.HandleFunc("/{$}", s.handleDashboard)
	s.mux.HandleFunc("/login", s.handleLogin)
	s.mux.HandleFunc("/verify-mfa", s.handleVerifyMFA)
	s.mux.HandleFunc("/forgot-password", s.handleForgotPassword)
	s.mux.HandleFunc("/reset-password/{token}", s.handleResetPassword)
	s.mux.HandleFunc("/logout", s.handleLogout)

	// JSON API.
	s.mux.HandleFunc("/v1/me", s.handleMe)

	s.mux.HandleFunc("/v1/empresas", s.handleEmpresas)
	s.mux.HandleFunc("/v1/empresas/{id}", s.handleEmpresa)

	s.mux.HandleFunc("/v1/calificaciones", s.handleCalificaciones)
	s.mux.HandleFunc("/v1/calificaciones/export", s.handleCalificacionesExport)
	s.mux.HandleFunc("/v1/calificaciones/{id}", s.handleCalificacion)
	s.mux.HandleFunc("/v1/calificaciones/{id}/factores", s.handleFactores)
	s.mux.HandleFunc("/v1/factores/calcular", s.handleFactoresCalcular)

	s.mux.HandleFunc("/v1/plantillas/montos", s.handlePlantillaMontos)
	s.mux.HandleFunc("/v1/plantillas/factores", s.handlePlantillaFactores)

	s.mux.HandleFunc("/v1/cargas", s.handleCargas)

	s.mux.HandleFunc("/v1/users", s.handleUsers)
	s.mux.HandleFunc("/v1/users/{id}/mfa", s.handleUserMFA)
}
