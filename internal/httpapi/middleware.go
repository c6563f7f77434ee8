package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"nuam-capital/portal/internal/metrics"
	"nuam-capital/portal/internal/model"
	"nuam-capital/portal/internal/store"
)

const requestIDHeader = "X-Request-Id"

type contextKey string

const ctxPrincipal contextKey = "principal"

// principal is the caller of a /v1 request. A nil account means the admin API token.
type principal struct {
	account *model.Account
}

func (p principal) admin() bool {
	return p.account == nil || p.account.IsAdmin()
}

func (p principal) userID() string {
	if p.account == nil {
		return ""
	}
	return p.account.ID()
}

// scope is the owner filter for list queries: empty for admins.
func (p principal) scope() string {
	if p.admin() {
		return ""
	}
	return p.userID()
}

// owns reports whether the caller may see a record owned by usuarioID.
func (p principal) owns(usuarioID string) bool {
	return p.admin() || (usuarioID != "" && usuarioID == p.userID())
}

func principalFromContext(ctx context.Context) principal {
	p, _ := ctx.Value(ctxPrincipal).(principal)
	return p
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(requestIDHeader) == "" {
			var b [12]byte
			_, _ = rand.Read(b[:])
			r.Header.Set(requestIDHeader, hex.EncodeToString(b[:]))
		}
		w.Header().Set(requestIDHeader, r.Header.Get(requestIDHeader))
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func loggingMiddleware(log *zap.Logger, m *metrics.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		if sw.status == 0 {
			sw.status = http.StatusOK
		}
		d := time.Since(start)
		m.ObserveRequest(r.Method, sw.status, d)
		log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.String("request_id", r.Header.Get(requestIDHeader)),
			zap.Duration("duration", d),
		)
	})
}

func recoverMiddleware(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("panic", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "panic", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func tokenMatches(got, want string) bool {
	return want != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// authMiddleware guards /v1. Callers authenticate with the admin API token
// (Bearer or X-Api-Key) or with a fully verified browser session.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	apiToken := strings.TrimSpace(s.cfg.AuthToken)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/") {
			next.ServeHTTP(w, r)
			return
		}

		if auth := r.Header.Get("Authorization"); auth != "" {
			const prefix = "Bearer "
			if strings.HasPrefix(auth, prefix) && tokenMatches(strings.TrimSpace(strings.TrimPrefix(auth, prefix)), apiToken) {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxPrincipal, principal{})))
				return
			}
		}
		if key := strings.TrimSpace(r.Header.Get("X-Api-Key")); key != "" && tokenMatches(key, apiToken) {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxPrincipal, principal{})))
			return
		}

		sess, err := s.sessions.Load(r)
		if err != nil {
			s.log.Error("load session", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal", "failed to load session")
			return
		}
		acc, err := s.auth.CurrentAccount(r.Context(), sess)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				s.log.Error("resolve session user", zap.Error(err))
			}
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid credentials")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxPrincipal, principal{account: acc})))
	})
}
