package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so several servers can coexist in one process (tests).
// All recording methods are safe on a nil receiver.
type Metrics struct {
	Registry *prometheus.Registry

	logins          *prometheus.CounterVec
	mfaVerification *prometheus.CounterVec
	passwordResets  *prometheus.CounterVec
	emails          *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_auth_logins_total",
			Help: "Login attempts by result",
		}, []string{"result"}),
		mfaVerification: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_auth_mfa_verifications_total",
			Help: "MFA code submissions by result",
		}, []string{"result"}),
		passwordResets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_auth_password_resets_total",
			Help: "Password reset requests and completions by result",
		}, []string{"stage", "result"}),
		emails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_emails_total",
			Help: "Outbound transactional emails by kind and result",
		}, []string{"kind", "result"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portal_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.logins,
		m.mfaVerification,
		m.passwordResets,
		m.emails,
		m.requestDuration,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) Login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

func (m *Metrics) MFAVerification(result string) {
	if m == nil {
		return
	}
	m.mfaVerification.WithLabelValues(result).Inc()
}

func (m *Metrics) PasswordReset(stage, result string) {
	if m == nil {
		return
	}
	m.passwordResets.WithLabelValues(stage, result).Inc()
}

func (m *Metrics) Email(kind string, err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.emails.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) ObserveRequest(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, strconv.Itoa(status)).Observe(d.Seconds())
}
